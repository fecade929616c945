package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/eiannone/keyboard"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/fieldsync/internal/connectivity"
	"github.com/chmdznr/fieldsync/internal/draft"
	"github.com/chmdznr/fieldsync/internal/queue"
	"github.com/chmdznr/fieldsync/internal/remote"
	"github.com/chmdznr/fieldsync/internal/sheets"
	"github.com/chmdznr/fieldsync/internal/store"
	syncer "github.com/chmdznr/fieldsync/internal/sync"
	"github.com/chmdznr/fieldsync/pkg/models"
	"github.com/chmdznr/fieldsync/pkg/utils"
	"github.com/chmdznr/fieldsync/pkg/version"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	profileFlag := &cli.StringFlag{
		Name:  "profile",
		Usage: "Device profile name",
		Value: "default",
	}

	app := &cli.App{
		Name:                 "fieldsync",
		Usage:                "Offline-first companion for field data collection",
		Version:              version.Version,
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("Version:    %s\n", version.Version)
					fmt.Printf("Git commit: %s\n", version.GitCommit)
					fmt.Printf("Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:  "init",
				Usage: "Create or update the device profile",
				Flags: []cli.Flag{
					profileFlag,
					&cli.StringFlag{Name: "endpoint", Usage: "Submission API endpoint", Required: true},
					&cli.StringFlag{Name: "token", Usage: "API token"},
					&cli.StringFlag{Name: "device", Usage: "Device identifier"},
					&cli.StringFlag{Name: "media-endpoint", Usage: "S3-compatible endpoint for media offload"},
					&cli.StringFlag{Name: "media-bucket", Usage: "Media bucket name"},
					&cli.StringFlag{Name: "media-access-key", Usage: "Media access key"},
					&cli.StringFlag{Name: "media-secret-key", Usage: "Media secret key"},
					&cli.BoolFlag{Name: "media-ssl", Usage: "Use TLS for media endpoint", Value: true},
					&cli.StringFlag{Name: "sheets-endpoint", Usage: "Hosted spreadsheet service endpoint"},
					&cli.StringFlag{Name: "workbook", Usage: "Local workbook path used when no sheets endpoint is set"},
				},
				Action: initProfile,
			},
			{
				Name:  "download-form",
				Usage: "Download a form definition for offline use",
				Flags: []cli.Flag{
					profileFlag,
					&cli.StringFlag{Name: "form", Usage: "Form identifier", Required: true},
				},
				Action: downloadForm,
			},
			{
				Name:  "forms",
				Usage: "List downloaded forms for a project",
				Flags: []cli.Flag{
					profileFlag,
					&cli.StringFlag{Name: "project", Usage: "Project identifier", Required: true},
				},
				Action: listForms,
			},
			{
				Name:  "remove-form",
				Usage: "Remove a downloaded form definition",
				Flags: []cli.Flag{
					profileFlag,
					&cli.StringFlag{Name: "form", Usage: "Form identifier", Required: true},
				},
				Action: removeForm,
			},
			{
				Name:  "submit",
				Usage: "Submit collected answers (direct when online, queued when not)",
				Flags: []cli.Flag{
					profileFlag,
					&cli.StringFlag{Name: "form", Usage: "Form identifier", Required: true},
					&cli.StringFlag{Name: "payload", Usage: "Path to answers JSON ('-' for stdin)", Required: true},
					&cli.StringFlag{Name: "user", Usage: "Submitting user identifier"},
				},
				Action: submit,
			},
			{
				Name:  "draft",
				Usage: "Manage in-progress form drafts",
				Subcommands: []*cli.Command{
					{
						Name:  "save",
						Usage: "Save the current answer state as a draft",
						Flags: []cli.Flag{
							profileFlag,
							&cli.StringFlag{Name: "form", Usage: "Form identifier", Required: true},
							&cli.StringFlag{Name: "payload", Usage: "Path to answers JSON ('-' for stdin)", Required: true},
						},
						Action: draftSave,
					},
					{
						Name:  "show",
						Usage: "Show the saved draft for a form",
						Flags: []cli.Flag{
							profileFlag,
							&cli.StringFlag{Name: "form", Usage: "Form identifier", Required: true},
						},
						Action: draftShow,
					},
					{
						Name:  "discard",
						Usage: "Discard the saved draft for a form",
						Flags: []cli.Flag{
							profileFlag,
							&cli.StringFlag{Name: "form", Usage: "Form identifier", Required: true},
						},
						Action: draftDiscard,
					},
				},
			},
			{
				Name:  "sync",
				Usage: "Run one user-initiated sync pass",
				Flags: []cli.Flag{
					profileFlag,
					&cli.BoolFlag{Name: "sheets-retry", Usage: "Also retry failed spreadsheet pushes"},
				},
				Action: syncNow,
			},
			{
				Name:  "watch",
				Usage: "Run the sync daemon (press 's' to sync now, 'q' to quit)",
				Flags: []cli.Flag{
					profileFlag,
					&cli.DurationFlag{Name: "interval", Usage: "Periodic sync interval", Value: 5 * time.Minute},
					&cli.DurationFlag{Name: "settle", Usage: "Settle delay after reconnect", Value: 10 * time.Second},
					&cli.DurationFlag{Name: "probe-interval", Usage: "Connectivity probe interval", Value: 15 * time.Second},
				},
				Action: watch,
			},
			{
				Name:  "export",
				Usage: "Export queued submissions to a local workbook",
				Flags: []cli.Flag{
					profileFlag,
					&cli.StringFlag{Name: "out", Usage: "Workbook output path", Required: true},
				},
				Action: exportWorkbook,
			},
			{
				Name:  "status",
				Usage: "Show local store status",
				Flags: []cli.Flag{
					profileFlag,
				},
				Action: showStatus,
			},
			{
				Name:  "reset",
				Usage: "Wipe all local collections (forms, queue, drafts)",
				Flags: []cli.Flag{
					profileFlag,
					&cli.BoolFlag{Name: "yes", Usage: "Confirm the wipe"},
				},
				Action: reset,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openStore(c *cli.Context) (*store.DB, error) {
	return store.Open(fmt.Sprintf("%s.db", c.String("profile")))
}

func loadProfile(ctx context.Context, db *store.DB, name string) (*models.Profile, error) {
	p, err := db.GetProfile(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("profile not initialized, run 'fieldsync init': %v", err)
	}
	return p, nil
}

func initProfile(c *cli.Context) error {
	db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	p := &models.Profile{Name: c.String("profile")}
	p.Remote.Endpoint = c.String("endpoint")
	p.Remote.APIToken = c.String("token")
	p.Remote.DeviceID = c.String("device")
	if p.Remote.DeviceID == "" {
		p.Remote.DeviceID = uuid.NewString()
	}
	p.Media.Endpoint = c.String("media-endpoint")
	p.Media.Bucket = c.String("media-bucket")
	p.Media.AccessKey = c.String("media-access-key")
	p.Media.SecretKey = c.String("media-secret-key")
	p.Media.UseSSL = c.Bool("media-ssl")
	p.Sheets.Endpoint = c.String("sheets-endpoint")
	p.Sheets.WorkbookPath = c.String("workbook")

	if err := db.SaveProfile(c.Context, p); err != nil {
		return fmt.Errorf("failed to save profile: %v", err)
	}
	fmt.Printf("Profile '%s' saved (device %s)\n", p.Name, p.Remote.DeviceID)
	return nil
}

// buildClient assembles the remote API client from the profile.
func buildClient(p *models.Profile) (*remote.Client, error) {
	var media *remote.MediaStore
	if p.Media.Endpoint != "" {
		var err error
		media, err = remote.NewMediaStore(p.Media.Endpoint, p.Media.AccessKey, p.Media.SecretKey, p.Media.Bucket, p.Media.UseSSL)
		if err != nil {
			return nil, err
		}
	}
	return remote.NewClient(remote.Config{
		Endpoint: p.Remote.Endpoint,
		APIToken: p.Remote.APIToken,
		DeviceID: p.Remote.DeviceID,
		Media:    media,
	})
}

// buildTarget picks the secondary target: the hosted sheet service when
// an endpoint is configured, otherwise the local workbook mirror, or
// nil when neither is set.
func buildTarget(p *models.Profile, db *store.DB) sheets.Target {
	if p.Sheets.Endpoint != "" {
		return sheets.NewHTTPTarget(p.Sheets.Endpoint, p.Remote.APIToken, nil)
	}
	if p.Sheets.WorkbookPath != "" {
		return sheets.NewWorkbook(p.Sheets.WorkbookPath, formFields(db))
	}
	return nil
}

func formFields(db *store.DB) sheets.FieldLookup {
	return func(ctx context.Context, formID string) ([]models.FieldDescriptor, error) {
		form, err := db.GetForm(ctx, formID)
		if err != nil {
			return nil, err
		}
		return form.Fields, nil
	}
}

func buildOrchestrator(p *models.Profile, db *store.DB, cfg *syncer.Config) (*syncer.Orchestrator, *connectivity.Monitor, error) {
	client, err := buildClient(p)
	if err != nil {
		return nil, nil, err
	}
	monitor := connectivity.New(connectivity.HTTPProbe(nil, p.Remote.Endpoint), nil)
	q := queue.New(db, nil)
	return syncer.New(q, db, client, buildTarget(p, db), monitor, cfg), monitor, nil
}

func downloadForm(c *cli.Context) error {
	db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := loadProfile(c.Context, db, c.String("profile"))
	if err != nil {
		return err
	}
	client, err := buildClient(p)
	if err != nil {
		return err
	}

	form, err := client.FetchForm(c.Context, c.String("form"))
	if err != nil {
		return fmt.Errorf("failed to download form: %v", err)
	}
	if err := db.PutForm(c.Context, form); err != nil {
		return err
	}
	fmt.Printf("Downloaded form '%s' (%s, version %s, %d fields)\n",
		form.Name, form.ID, form.Version, len(form.Fields))
	return nil
}

func listForms(c *cli.Context) error {
	db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	forms, err := db.ListFormsByProject(c.Context, c.String("project"))
	if err != nil {
		return err
	}
	if len(forms) == 0 {
		fmt.Println("No forms downloaded for this project")
		return nil
	}
	for _, form := range forms {
		fmt.Printf("%s  %s (version %s, downloaded %s ago)\n",
			form.ID, form.Name, form.Version,
			utils.FormatDuration(time.Since(form.DownloadedAt)))
	}
	return nil
}

func removeForm(c *cli.Context) error {
	db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	formID := c.String("form")
	if err := db.DeleteForm(c.Context, formID); err != nil {
		return err
	}
	fmt.Printf("Removed form %s\n", formID)
	return nil
}

func readPayload(path string) (models.Payload, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %v", err)
	}

	var payload models.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid payload JSON: %v", err)
	}
	return payload, nil
}

func submit(c *cli.Context) error {
	db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := loadProfile(c.Context, db, c.String("profile"))
	if err != nil {
		return err
	}
	payload, err := readPayload(c.String("payload"))
	if err != nil {
		return err
	}

	orch, monitor, err := buildOrchestrator(p, db, nil)
	if err != nil {
		return err
	}

	// One synchronous probe; the direct-submit path is only worth
	// trying when the link looks up.
	if connectivity.HTTPProbe(&http.Client{Timeout: 5 * time.Second}, p.Remote.Endpoint)(c.Context) {
		monitor.SetState(connectivity.Online)
	}

	sub := &models.QueuedSubmission{
		ID:      uuid.NewString(),
		FormID:  c.String("form"),
		UserID:  c.String("user"),
		Payload: payload,
	}
	direct, err := orch.Submit(c.Context, sub)
	if err != nil {
		return err
	}
	if direct {
		fmt.Printf("Submitted %s directly to the server\n", sub.ID)
	} else {
		fmt.Printf("Queued %s for the next sync pass\n", sub.ID)
	}
	return nil
}

func draftSave(c *cli.Context) error {
	db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	payload, err := readPayload(c.String("payload"))
	if err != nil {
		return err
	}

	session := draft.NewSession(db, c.String("form"), nil)
	session.Update(payload)
	if err := session.Close(c.Context); err != nil {
		return fmt.Errorf("failed to save draft: %v", err)
	}
	fmt.Printf("Draft saved for form %s\n", c.String("form"))
	return nil
}

func draftShow(c *cli.Context) error {
	db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	payload, err := draft.Load(c.Context, db, c.String("form"))
	if err != nil {
		return err
	}
	if payload == nil {
		fmt.Println("No draft saved for this form")
		return nil
	}
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func draftDiscard(c *cli.Context) error {
	db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := draft.Discard(c.Context, db, c.String("form")); err != nil {
		return err
	}
	fmt.Printf("Draft discarded for form %s\n", c.String("form"))
	return nil
}

func syncNow(c *cli.Context) error {
	db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := loadProfile(c.Context, db, c.String("profile"))
	if err != nil {
		return err
	}

	var bar *pb.ProgressBar
	cfg := syncer.DefaultConfig()
	cfg.Progress = func(done, total int) {
		if bar == nil {
			bar = pb.StartNew(total)
		}
		bar.SetCurrent(int64(done))
	}

	orch, _, err := buildOrchestrator(p, db, cfg)
	if err != nil {
		return err
	}

	summary, err := orch.SyncNow(c.Context)
	if err != nil {
		return fmt.Errorf("sync failed: %v", err)
	}
	if bar != nil {
		bar.Finish()
	}
	fmt.Printf("Sync pass finished in %s: %d succeeded, %d failed\n",
		utils.FormatDuration(summary.Duration), summary.Succeeded, summary.Failed)

	if c.Bool("sheets-retry") {
		retried, failed, err := orch.RetrySheetFailures(c.Context)
		if err != nil {
			return fmt.Errorf("sheet retry failed: %v", err)
		}
		fmt.Printf("Sheet retries: %d delivered, %d still failing\n", retried, failed)
	}
	return nil
}

func watch(c *cli.Context) error {
	db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := loadProfile(c.Context, db, c.String("profile"))
	if err != nil {
		return err
	}

	cfg := syncer.DefaultConfig()
	cfg.Interval = c.Duration("interval")
	cfg.SettleDelay = c.Duration("settle")

	monCfg := connectivity.DefaultConfig()
	monCfg.ProbeInterval = c.Duration("probe-interval")
	monitor := connectivity.New(connectivity.HTTPProbe(nil, p.Remote.Endpoint), monCfg)

	client, err := buildClient(p)
	if err != nil {
		return err
	}
	orch := syncer.New(queue.New(db, nil), db, client, buildTarget(p, db), monitor, cfg)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Keyboard controls are best-effort; watch still works headless.
	if err := keyboard.Open(); err == nil {
		defer keyboard.Close()
		go func() {
			for {
				ch, key, err := keyboard.GetKey()
				if err != nil {
					return
				}
				switch {
				case ch == 'q' || key == keyboard.KeyEsc || key == keyboard.KeyCtrlC:
					cancel()
					return
				case ch == 's':
					go func() {
						if _, err := orch.SyncNow(ctx); err != nil && err != syncer.ErrPassInProgress {
							log.Printf("Manual sync failed: %v", err)
						}
					}()
				}
			}
		}()
	}

	fmt.Println("Watching for connectivity; press 's' to sync now, 'q' to quit")
	monitor.Start(ctx)
	defer monitor.Stop()

	orch.Run(ctx)
	fmt.Println("Watch stopped")
	return nil
}

func exportWorkbook(c *cli.Context) error {
	db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	q := queue.New(db, nil)
	pending, err := q.ListPending(c.Context)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("Queue is empty, nothing to export")
		return nil
	}

	wb := sheets.NewWorkbook(c.String("out"), formFields(db))
	for _, sub := range pending {
		if err := wb.PushRecord(c.Context, sub.ID, sub.FormID, sub.Payload); err != nil {
			return fmt.Errorf("failed to export submission %s: %v", sub.ID, err)
		}
	}
	fmt.Printf("Exported %d queued submissions to %s\n", len(pending), c.String("out"))
	return nil
}

func showStatus(c *cli.Context) error {
	db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.GetStats(c.Context, queue.MaxAttempts)
	if err != nil {
		return err
	}

	fmt.Printf("Forms downloaded:   %d\n", stats.Forms)
	fmt.Printf("Queued submissions: %d pending, %d exhausted\n", stats.PendingItems, stats.ExhaustedItems)
	fmt.Printf("Drafts:             %d\n", stats.Drafts)
	fmt.Printf("Sheet retries due:  %d\n", stats.SheetRetries)
	if fi, err := os.Stat(fmt.Sprintf("%s.db", c.String("profile"))); err == nil {
		fmt.Printf("Database size:      %s\n", utils.FormatSize(fi.Size()))
	}
	if stats.OldestPendingAge > 0 {
		fmt.Printf("Oldest pending:     %s\n", utils.FormatDuration(stats.OldestPendingAge))
	}
	return nil
}

func reset(c *cli.Context) error {
	if !c.Bool("yes") {
		return fmt.Errorf("reset wipes every local collection; re-run with --yes to confirm")
	}

	db, err := openStore(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.ClearAll(c.Context); err != nil {
		return err
	}
	fmt.Println("Local store cleared")
	return nil
}

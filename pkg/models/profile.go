package models

// Profile holds the device-local configuration created by `fieldsync init`.
type Profile struct {
	Name   string
	Remote struct {
		Endpoint string
		APIToken string
		DeviceID string
	}
	// Media is optional: when an endpoint is set, inline binary media is
	// offloaded to S3-compatible object storage during sync.
	Media struct {
		Endpoint  string
		Bucket    string
		AccessKey string
		SecretKey string
		UseSSL    bool
	}
	// Sheets is optional: endpoint for the hosted spreadsheet mirror, or
	// a local workbook path used instead when no endpoint is configured.
	Sheets struct {
		Endpoint     string
		WorkbookPath string
	}
}

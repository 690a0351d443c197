// Package cloudmsg defines the tagged-union message variants carried over
// the cloud control channel (C10), plus the handful of upward shapes
// (Alert, DeviceStatus) other components construct before handing them to
// the channel worker. Keeping these types in their own package lets the
// producers (C4 through C9, C11, C12) depend on the shapes without
// depending on the channel worker itself.
package cloudmsg

import "time"

// ControlMessage is the envelope for every message exchanged over the
// single bidirectional stream. At most one of the payload fields is set;
// the stream-opening handshake sets none.
type ControlMessage struct {
	SenderID string `json:"sender_id"`

	LicenseRequest      *LicenseRequest      `json:"license_request,omitempty"`
	LicenseResponse     *LicenseResponse     `json:"license_response,omitempty"`
	MonitoringData      *MonitoringData      `json:"monitoring_data,omitempty"`
	LogUpload           *LogUpload           `json:"log_upload,omitempty"`
	LogRequest          *LogRequest          `json:"log_request,omitempty"`
	LogResponse         *LogResponse         `json:"log_response,omitempty"`
	CommandRequest      *CommandRequest      `json:"command_request,omitempty"`
	CommandResponse     *CommandResponse     `json:"command_response,omitempty"`
	UpdatePackage       *UpdatePackage       `json:"update_package,omitempty"`
	UpdateAck           *UpdateAck           `json:"update_ack,omitempty"`
	ScheduledUpdate     *ScheduledUpdate     `json:"scheduled_update,omitempty"`
	VersionDataRequest  *VersionDataRequest  `json:"version_data_request,omitempty"`
	VersionDataResponse *VersionDataResponse `json:"version_data_response,omitempty"`
	AlertMessage        *AlertMessage        `json:"alert_message,omitempty"`
	AIRecommendations   *AIRecommendations   `json:"ai_recommendations,omitempty"`
	DeviceStatus        *DeviceStatus        `json:"device_status,omitempty"`
}

// LicenseRequest asks the cloud to issue or renew a license for a device.
type LicenseRequest struct {
	UUID       string `json:"uuid"`
	IsRenewal  bool   `json:"is_renewal"`
}

// LicenseResponse is the cloud's answer to a LicenseRequest.
type LicenseResponse struct {
	UUID       string    `json:"uuid"`
	Approved   bool      `json:"approved"`
	License    string    `json:"license"`
	Expiration time.Time `json:"expiration"`
}

// MonitoringData is the normalized telemetry the Gateway forwards upward
// after receiving a device's MONITORING_DATA frame.
type MonitoringData struct {
	UUID           string    `json:"uuid"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemPercent     float64   `json:"mem_percent"`
	DiskPercent    float64   `json:"disk_percent"`
	NetSentBytes   uint64    `json:"net_sent_bytes"`
	NetRecvBytes   uint64    `json:"net_recv_bytes"`
	SensorRed      int       `json:"sensor_red"`
	SensorGreen    int       `json:"sensor_green"`
	SensorBlue     int       `json:"sensor_blue"`
	UptimeSeconds  uint64    `json:"uptime_seconds"`
	TempCelsius    float64   `json:"temp_celsius"`
	Timestamp      time.Time `json:"timestamp"`
}

// LogRequest asks the Gateway to pull logs for a set of devices.
type LogRequest struct {
	UUIDs []string `json:"uuids"`
}

// LogUpload streams one fetched log file upward.
type LogUpload struct {
	RequestID string `json:"request_id"`
	UUID      string `json:"uuid"`
	FileName  string `json:"file_name"`
	Bytes     []byte `json:"bytes"`
}

// LogResponse terminates a LogRequest's set of LogUpload messages.
type LogResponse struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
}

// CommandRequest is a fan-out command from the cloud. Type is currently
// always "rollback".
type CommandRequest struct {
	CommandID string   `json:"command_id"`
	Type      string   `json:"type"`
	Params    string   `json:"params"`
	Targets   []string `json:"targets"`
}

// CommandResponse is the single aggregated reply to a CommandRequest.
type CommandResponse struct {
	CommandID string `json:"command_id"`
	Success   bool   `json:"success"`
	Details   string `json:"details"`
}

// UpdatePackage is an immediate-distribution update from the cloud.
type UpdatePackage struct {
	FileName     string   `json:"file_name"`
	PackageBytes []byte   `json:"package_bytes"`
	Signature    []byte   `json:"signature"`
	Targets      []string `json:"targets"`
}

// UpdateAck is the single aggregated reply to an UpdatePackage or an
// executed ScheduledUpdate.
type UpdateAck struct {
	FileName string `json:"file_name"`
	Success  bool   `json:"success"`
	Details  string `json:"details"`
}

// ScheduledUpdate is a future-dated update from the cloud.
type ScheduledUpdate struct {
	ScheduleID   string    `json:"schedule_id"`
	Targets      []string  `json:"targets"`
	FileName     string    `json:"file_name"`
	PackageBytes []byte    `json:"package_bytes"`
	Signature    []byte    `json:"signature"`
	StartTimeUTC time.Time `json:"start_time_utc"`
}

// VersionDataRequest asks the Gateway to report installed versions for
// every known device.
type VersionDataRequest struct{}

// VersionEntry is one version_records row surfaced to the cloud.
type VersionEntry struct {
	UUID        string    `json:"uuid"`
	Version     string    `json:"version"`
	InstalledAt time.Time `json:"installed_at"`
}

// VersionDataResponse answers a VersionDataRequest.
type VersionDataResponse struct {
	Success bool           `json:"success"`
	Entries []VersionEntry `json:"entries"`
}

// AlertMessage is an Alert (see Alert below) as it travels over the wire.
type AlertMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Exception string    `json:"exception,omitempty"`
	Source    string    `json:"source"`
}

// Cluster is one clustering result, shared by AIRecommendations' two parts.
type Cluster struct {
	ID            string     `json:"id"`
	UUIDs         []string   `json:"uuids"`
	UpdateTimeUTC *time.Time `json:"update_time_utc,omitempty"`
}

// PlotPoint is one 2D clustering-plot coordinate for a device.
type PlotPoint struct {
	UUID      string  `json:"uuid"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	ClusterID string  `json:"cluster_id"`
}

// AIRecommendations is the Recommender Bridge's upward emission.
type AIRecommendations struct {
	Clusters []Cluster   `json:"clusters"`
	PlotData []PlotPoint `json:"plot_data"`
}

// DeviceStatus is a liveness transition event.
type DeviceStatus struct {
	UUID     string    `json:"uuid"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// Alert level values.
const (
	AlertLevelInformation = "information"
	AlertLevelWarning     = "warning"
	AlertLevelCritical    = "critical"
)

// Alert is a locally-originated event published on the Alert Bus (C12).
type Alert struct {
	Timestamp time.Time
	Level     string
	Message   string
	Exception string
	Source    string
}

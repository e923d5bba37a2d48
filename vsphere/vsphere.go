// Package vsphere defines the management client the tool catalog drives and
// the result types it returns. Implementations live in subpackages: vcenter
// talks to a real vCenter or ESXi endpoint, vspheretest is an in-memory fake.
package vsphere

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrNotFound is returned (wrapped) when a named inventory object does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned (wrapped) when a create or clone targets an existing name.
var ErrAlreadyExists = errors.New("already exists")

// ErrInvalidSpec is returned (wrapped) when a VMSpec carries a value vSphere
// cannot represent.
var ErrInvalidSpec = errors.New("invalid VM spec")

// Client is the management surface used by the tool handlers. Every call is
// synchronous from the caller's perspective and may fail with an
// implementation-specific error.
type Client interface {
	CreateVM(ctx context.Context, name string, cpu, memoryMB int, datastore, network string) (string, error)
	CreateVMCustom(ctx context.Context, spec VMSpec) (string, error)
	CloneVM(ctx context.Context, templateName, newName string) (string, error)
	DeleteVM(ctx context.Context, name string) (string, error)
	PowerOnVM(ctx context.Context, name string) (string, error)
	PowerOffVM(ctx context.Context, name string) (string, error)

	ListVMs(ctx context.Context) ([]string, error)
	GetVMDetails(ctx context.Context, name string) (*VMDetails, error)
	ListTemplates(ctx context.Context) ([]string, error)
	ListDatastores(ctx context.Context) ([]Datastore, error)
	ListNetworks(ctx context.Context) ([]string, error)
	ListHosts(ctx context.Context) ([]HostSummary, error)

	GetHostDetails(ctx context.Context, name string) (*HostDetails, error)
	GetHostPerformanceMetrics(ctx context.Context, name string) (*HostMetrics, error)
	GetHostHardwareHealth(ctx context.Context, name string) (*HardwareHealth, error)
	GetHostPerformance(ctx context.Context, name string) (*HostPerformance, error)
	ListPerformanceCounters(ctx context.Context) ([]PerformanceCounter, error)

	GetVMSummaryStats(ctx context.Context, name string) (*VMSummaryStats, error)
	GetVMPerformance(ctx context.Context, name string) (*VMPerformance, error)
}

// AuthenticationAware is implemented by clients that mirror the API-key
// gate's authenticated flag.
type AuthenticationAware interface {
	SetAuthenticated(bool)
}

// VMSpec describes a virtual machine for CreateVMCustom.
type VMSpec struct {
	Name            string
	CPU             int
	MemoryMB        int
	DiskSizeGB      int
	GuestID         string
	Datastore       string
	Network         string
	ThinProvisioned bool
	Annotation      string
}

// Validate rejects sizes that are not positive or do not fit the 32-bit
// fields of a vSphere config spec. A zero DiskSizeGB means the default.
func (s VMSpec) Validate() error {
	switch {
	case s.CPU < 1 || s.CPU > math.MaxInt32:
		return fmt.Errorf("%w: cpu must be between 1 and %d, got %d", ErrInvalidSpec, math.MaxInt32, s.CPU)
	case s.MemoryMB < 1:
		return fmt.Errorf("%w: memory must be a positive number of MB, got %d", ErrInvalidSpec, s.MemoryMB)
	case s.DiskSizeGB < 0 || s.DiskSizeGB > math.MaxInt32:
		return fmt.Errorf("%w: disk_size_gb must be between 1 and %d, got %d", ErrInvalidSpec, math.MaxInt32, s.DiskSizeGB)
	}
	return nil
}

// Default values applied by the tool layer when the caller omits them.
const (
	DefaultDiskSizeGB = 10
	DefaultGuestID    = "otherGuest"
)

type VMDetails struct {
	Name          string   `json:"name"`
	PowerState    string   `json:"power_state"`
	GuestOS       string   `json:"guest_os"`
	CPUCount      int      `json:"cpu_count"`
	MemoryMB      int      `json:"memory_mb"`
	IPAddress     string   `json:"ip_address,omitempty"`
	UUID          string   `json:"uuid,omitempty"`
	Host          string   `json:"host,omitempty"`
	ToolsStatus   string   `json:"tools_status,omitempty"`
	Annotation    string   `json:"annotation,omitempty"`
	Datastores    []string `json:"datastores"`
	Networks      []string `json:"networks"`
	IsTemplate    bool     `json:"is_template"`
	OverallStatus string   `json:"overall_status,omitempty"`
}

type Datastore struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	CapacityGB  float64 `json:"capacity_gb"`
	FreeSpaceGB float64 `json:"free_space_gb"`
	Accessible  bool    `json:"accessible"`
}

type HostSummary struct {
	Name            string `json:"name"`
	ConnectionState string `json:"connection_state"`
	PowerState      string `json:"power_state"`
	OverallStatus   string `json:"overall_status,omitempty"`
}

type HostDetails struct {
	Name              string  `json:"name"`
	Vendor            string  `json:"vendor"`
	Model             string  `json:"model"`
	CPUModel          string  `json:"cpu_model"`
	CPUCores          int     `json:"cpu_cores"`
	CPUThreads        int     `json:"cpu_threads"`
	CPUMhz            int     `json:"cpu_mhz"`
	MemoryGB          float64 `json:"memory_gb"`
	Product           string  `json:"product,omitempty"`
	Version           string  `json:"version,omitempty"`
	Build             string  `json:"build,omitempty"`
	ConnectionState   string  `json:"connection_state"`
	PowerState        string  `json:"power_state"`
	InMaintenanceMode bool    `json:"in_maintenance_mode"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
	VMCount           int     `json:"vm_count"`
}

type HostMetrics struct {
	Name               string  `json:"name"`
	CPUUsageMhz        int64   `json:"cpu_usage_mhz"`
	CPUCapacityMhz     int64   `json:"cpu_capacity_mhz"`
	CPUUsagePercent    float64 `json:"cpu_usage_percent"`
	MemoryUsageMB      int64   `json:"memory_usage_mb"`
	MemoryCapacityMB   int64   `json:"memory_capacity_mb"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	UptimeSeconds      int64   `json:"uptime_seconds"`
}

type SensorReading struct {
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Health  string  `json:"health"`
	Reading float64 `json:"reading"`
	Units   string  `json:"units"`
}

type HardwareHealth struct {
	Name          string          `json:"name"`
	OverallStatus string          `json:"overall_status"`
	Sensors       []SensorReading `json:"sensors"`
}

// MetricSample is the latest value of one performance counter instance.
type MetricSample struct {
	Counter  string  `json:"counter"`
	Instance string  `json:"instance,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Value    float64 `json:"value"`
}

type HostPerformance struct {
	Name            string         `json:"name"`
	IntervalSeconds int            `json:"interval_seconds"`
	Samples         []MetricSample `json:"samples"`
}

type PerformanceCounter struct {
	Key         int32  `json:"key"`
	Name        string `json:"name"`
	Group       string `json:"group"`
	Unit        string `json:"unit"`
	Rollup      string `json:"rollup"`
	StatsType   string `json:"stats_type"`
	Level       int32  `json:"level"`
	Description string `json:"description,omitempty"`
}

type VMSummaryStats struct {
	Name                 string  `json:"name"`
	PowerState           string  `json:"power_state"`
	OverallStatus        string  `json:"overall_status"`
	CPUUsageMhz          int64   `json:"cpu_usage_mhz"`
	GuestMemoryUsageMB   int64   `json:"guest_memory_usage_mb"`
	HostMemoryUsageMB    int64   `json:"host_memory_usage_mb"`
	UptimeSeconds        int64   `json:"uptime_seconds"`
	CommittedStorageGB   float64 `json:"committed_storage_gb"`
	UncommittedStorageGB float64 `json:"uncommitted_storage_gb"`
}

// VMPerformance is the snapshot served by get_vm_performance and the
// vmstats:// resource.
type VMPerformance struct {
	Name                string  `json:"name"`
	CPUUsageMhz         int64   `json:"cpu_usage_mhz"`
	CPUUsagePercent     float64 `json:"cpu_usage_percent"`
	MemoryUsageMB       int64   `json:"memory_usage_mb"`
	MemoryUsagePercent  float64 `json:"memory_usage_percent"`
	StorageUsageGB      float64 `json:"storage_usage_gb"`
	NetworkTransmitKBps float64 `json:"network_transmit_kbps"`
	NetworkReceiveKBps  float64 `json:"network_receive_kbps"`
}

// BytesToGB converts a byte count to gibibytes rounded to two decimals.
func BytesToGB(b int64) float64 {
	return Round2(float64(b) / (1024 * 1024 * 1024))
}

// Round2 rounds v to two decimals.
func Round2(v float64) float64 {
	if v < 0 {
		return -Round2(-v)
	}
	return float64(int64(v*100+0.5)) / 100
}

// Percent returns part/whole*100 rounded to two decimals, or 0 when whole is 0.
func Percent(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return Round2(part / whole * 100)
}

// Package vspheretest provides an in-memory vsphere.Client for tests.
package vspheretest

import (
	"context"
	"sort"
	"sync"

	"github.com/ggoodman/esxi-mcp-server/vsphere"
)

var (
	_ vsphere.Client              = (*Fake)(nil)
	_ vsphere.AuthenticationAware = (*Fake)(nil)
)

// Fake is a mutable in-memory inventory. The exported fields may be edited
// before the fake is shared; afterwards use the methods.
type Fake struct {
	mu sync.Mutex

	VMs        map[string]*vsphere.VMDetails
	Templates  []string
	Datastores []vsphere.Datastore
	Networks   []string
	Hosts      map[string]*vsphere.HostDetails
	Counters   []vsphere.PerformanceCounter

	// Created records every spec accepted by CreateVM and CreateVMCustom.
	Created []vsphere.VMSpec

	// Err, when set, is returned by every call.
	Err error

	calls         map[string]int
	authenticated bool
}

// New returns a Fake seeded with a small inventory: two VMs, one template,
// one datastore, one network and one host.
func New() *Fake {
	return &Fake{
		VMs: map[string]*vsphere.VMDetails{
			"web-01": {Name: "web-01", PowerState: "poweredOn", GuestOS: "Ubuntu Linux (64-bit)", CPUCount: 2, MemoryMB: 4096, IPAddress: "10.0.0.11", Host: "esx-01", Datastores: []string{"datastore1"}, Networks: []string{"VM Network"}},
			"db-01":  {Name: "db-01", PowerState: "poweredOff", GuestOS: "Other (64-bit)", CPUCount: 4, MemoryMB: 8192, Host: "esx-01", Datastores: []string{"datastore1"}, Networks: []string{"VM Network"}},
		},
		Templates:  []string{"ubuntu-template"},
		Datastores: []vsphere.Datastore{{Name: "datastore1", Type: "VMFS", CapacityGB: 500, FreeSpaceGB: 320.5, Accessible: true}},
		Networks:   []string{"VM Network"},
		Hosts: map[string]*vsphere.HostDetails{
			"esx-01": {Name: "esx-01", Vendor: "Dell Inc.", Model: "PowerEdge R640", CPUModel: "Intel(R) Xeon(R) Gold 6130", CPUCores: 16, CPUThreads: 32, CPUMhz: 2100, MemoryGB: 256, Product: "VMware ESXi 8.0.2", ConnectionState: "connected", PowerState: "poweredOn", UptimeSeconds: 86400, VMCount: 2},
		},
		Counters: []vsphere.PerformanceCounter{
			{Key: 2, Name: "cpu.usage.average", Group: "cpu", Unit: "percent", Rollup: "average", StatsType: "rate", Level: 1},
			{Key: 24, Name: "mem.usage.average", Group: "mem", Unit: "percent", Rollup: "average", StatsType: "absolute", Level: 1},
		},
	}
}

// Calls returns how many times method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// TotalCalls returns the number of client calls across all methods.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *Fake) SetAuthenticated(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authenticated = b
}

func (f *Fake) Authenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated
}

// enter records a call and must be called with f.mu held.
func (f *Fake) enter(method string) error {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++
	return f.Err
}

func (f *Fake) CreateVM(ctx context.Context, name string, cpu, memoryMB int, datastore, network string) (string, error) {
	return f.CreateVMCustom(ctx, vsphere.VMSpec{Name: name, CPU: cpu, MemoryMB: memoryMB, Datastore: datastore, Network: network})
}

func (f *Fake) CreateVMCustom(ctx context.Context, spec vsphere.VMSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateVMCustom"); err != nil {
		return "", err
	}
	if err := spec.Validate(); err != nil {
		return "", err
	}
	if _, ok := f.VMs[spec.Name]; ok {
		return "", vsphere.AlreadyExists("VM", spec.Name)
	}
	f.Created = append(f.Created, spec)
	ds := spec.Datastore
	if ds == "" && len(f.Datastores) > 0 {
		ds = f.Datastores[0].Name
	}
	nw := spec.Network
	if nw == "" && len(f.Networks) > 0 {
		nw = f.Networks[0]
	}
	f.VMs[spec.Name] = &vsphere.VMDetails{
		Name:       spec.Name,
		PowerState: "poweredOff",
		GuestOS:    spec.GuestID,
		CPUCount:   spec.CPU,
		MemoryMB:   spec.MemoryMB,
		Annotation: spec.Annotation,
		Datastores: []string{ds},
		Networks:   []string{nw},
	}
	return vsphere.CreatedMessage(spec.Name), nil
}

func (f *Fake) CloneVM(ctx context.Context, templateName, newName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CloneVM"); err != nil {
		return "", err
	}
	src, ok := f.VMs[templateName]
	if !ok && !contains(f.Templates, templateName) {
		return "", vsphere.NotFound("Template", templateName)
	}
	if _, exists := f.VMs[newName]; exists {
		return "", vsphere.AlreadyExists("VM", newName)
	}
	clone := &vsphere.VMDetails{Name: newName, PowerState: "poweredOff"}
	if src != nil {
		*clone = *src
		clone.Name = newName
		clone.PowerState = "poweredOff"
		clone.IPAddress = ""
	}
	f.VMs[newName] = clone
	return vsphere.ClonedMessage(templateName, newName), nil
}

func (f *Fake) DeleteVM(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteVM"); err != nil {
		return "", err
	}
	if _, ok := f.VMs[name]; !ok {
		return "", vsphere.NotFound("VM", name)
	}
	delete(f.VMs, name)
	return vsphere.DeletedMessage(name), nil
}

func (f *Fake) PowerOnVM(ctx context.Context, name string) (string, error) {
	return f.setPower("PowerOnVM", name, "poweredOn", vsphere.PoweredOnMessage)
}

func (f *Fake) PowerOffVM(ctx context.Context, name string) (string, error) {
	return f.setPower("PowerOffVM", name, "poweredOff", vsphere.PoweredOffMessage)
}

func (f *Fake) setPower(method, name, state string, msg func(string, bool) string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(method); err != nil {
		return "", err
	}
	vm, ok := f.VMs[name]
	if !ok {
		return "", vsphere.NotFound("VM", name)
	}
	if vm.PowerState == state {
		return msg(name, true), nil
	}
	vm.PowerState = state
	return msg(name, false), nil
}

func (f *Fake) ListVMs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListVMs"); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(f.VMs))
	for name := range f.VMs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) GetVMDetails(ctx context.Context, name string) (*vsphere.VMDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetVMDetails"); err != nil {
		return nil, err
	}
	vm, ok := f.VMs[name]
	if !ok {
		return nil, vsphere.NotFound("VM", name)
	}
	out := *vm
	return &out, nil
}

func (f *Fake) ListTemplates(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListTemplates"); err != nil {
		return nil, err
	}
	return append([]string{}, f.Templates...), nil
}

func (f *Fake) ListDatastores(ctx context.Context) ([]vsphere.Datastore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListDatastores"); err != nil {
		return nil, err
	}
	return append([]vsphere.Datastore{}, f.Datastores...), nil
}

func (f *Fake) ListNetworks(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListNetworks"); err != nil {
		return nil, err
	}
	return append([]string{}, f.Networks...), nil
}

func (f *Fake) ListHosts(ctx context.Context) ([]vsphere.HostSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListHosts"); err != nil {
		return nil, err
	}
	out := make([]vsphere.HostSummary, 0, len(f.Hosts))
	for _, h := range f.Hosts {
		out = append(out, vsphere.HostSummary{Name: h.Name, ConnectionState: h.ConnectionState, PowerState: h.PowerState, OverallStatus: "green"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *Fake) host(method, name string) (*vsphere.HostDetails, error) {
	if err := f.enter(method); err != nil {
		return nil, err
	}
	h, ok := f.Hosts[name]
	if !ok {
		return nil, vsphere.NotFound("Host", name)
	}
	return h, nil
}

func (f *Fake) GetHostDetails(ctx context.Context, name string) (*vsphere.HostDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, err := f.host("GetHostDetails", name)
	if err != nil {
		return nil, err
	}
	out := *h
	return &out, nil
}

func (f *Fake) GetHostPerformanceMetrics(ctx context.Context, name string) (*vsphere.HostMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, err := f.host("GetHostPerformanceMetrics", name)
	if err != nil {
		return nil, err
	}
	capMhz := int64(h.CPUMhz * h.CPUCores)
	memMB := int64(h.MemoryGB * 1024)
	return &vsphere.HostMetrics{
		Name:               h.Name,
		CPUUsageMhz:        capMhz / 4,
		CPUCapacityMhz:     capMhz,
		CPUUsagePercent:    vsphere.Percent(float64(capMhz/4), float64(capMhz)),
		MemoryUsageMB:      memMB / 2,
		MemoryCapacityMB:   memMB,
		MemoryUsagePercent: vsphere.Percent(float64(memMB/2), float64(memMB)),
		UptimeSeconds:      h.UptimeSeconds,
	}, nil
}

func (f *Fake) GetHostHardwareHealth(ctx context.Context, name string) (*vsphere.HardwareHealth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, err := f.host("GetHostHardwareHealth", name)
	if err != nil {
		return nil, err
	}
	return &vsphere.HardwareHealth{
		Name:          h.Name,
		OverallStatus: "green",
		Sensors: []vsphere.SensorReading{
			{Name: "System Board 1 Ambient Temp", Type: "temperature", Health: "green", Reading: 24, Units: "degrees C"},
			{Name: "Power Supply 1", Type: "power", Health: "green", Reading: 1, Units: ""},
		},
	}, nil
}

func (f *Fake) GetHostPerformance(ctx context.Context, name string) (*vsphere.HostPerformance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, err := f.host("GetHostPerformance", name)
	if err != nil {
		return nil, err
	}
	return &vsphere.HostPerformance{
		Name:            h.Name,
		IntervalSeconds: 20,
		Samples: []vsphere.MetricSample{
			{Counter: "cpu.usage.average", Unit: "percent", Value: 25},
			{Counter: "mem.usage.average", Unit: "percent", Value: 50},
		},
	}, nil
}

func (f *Fake) ListPerformanceCounters(ctx context.Context) ([]vsphere.PerformanceCounter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListPerformanceCounters"); err != nil {
		return nil, err
	}
	return append([]vsphere.PerformanceCounter{}, f.Counters...), nil
}

func (f *Fake) GetVMSummaryStats(ctx context.Context, name string) (*vsphere.VMSummaryStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetVMSummaryStats"); err != nil {
		return nil, err
	}
	vm, ok := f.VMs[name]
	if !ok {
		return nil, vsphere.NotFound("VM", name)
	}
	stats := &vsphere.VMSummaryStats{Name: vm.Name, PowerState: vm.PowerState, OverallStatus: "green", CommittedStorageGB: 12.5}
	if vm.PowerState == "poweredOn" {
		stats.CPUUsageMhz = 350
		stats.GuestMemoryUsageMB = int64(vm.MemoryMB / 4)
		stats.HostMemoryUsageMB = int64(vm.MemoryMB / 2)
		stats.UptimeSeconds = 3600
	}
	return stats, nil
}

func (f *Fake) GetVMPerformance(ctx context.Context, name string) (*vsphere.VMPerformance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetVMPerformance"); err != nil {
		return nil, err
	}
	vm, ok := f.VMs[name]
	if !ok {
		return nil, vsphere.NotFound("VM", name)
	}
	perf := &vsphere.VMPerformance{Name: vm.Name, StorageUsageGB: 12.5}
	if vm.PowerState == "poweredOn" {
		perf.CPUUsageMhz = 350
		perf.CPUUsagePercent = 8.33
		perf.MemoryUsageMB = int64(vm.MemoryMB / 4)
		perf.MemoryUsagePercent = 25
		perf.NetworkTransmitKBps = 12
		perf.NetworkReceiveKBps = 30
	}
	return perf, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

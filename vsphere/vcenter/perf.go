package vcenter

import (
	"context"
	"log/slog"
	"sort"

	"github.com/ggoodman/esxi-mcp-server/vsphere"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
)

// realtimeInterval is the sampling period of real-time statistics in seconds.
const realtimeInterval = 20

var hostCounters = []string{
	"cpu.usage.average",
	"cpu.usagemhz.average",
	"mem.usage.average",
	"mem.consumed.average",
	"disk.usage.average",
	"net.usage.average",
}

var vmNetworkCounters = []string{
	"net.transmitted.average",
	"net.received.average",
}

func (c *Client) ListPerformanceCounters(ctx context.Context) ([]vsphere.PerformanceCounter, error) {
	infos, err := c.perf.CounterInfo(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]vsphere.PerformanceCounter, 0, len(infos))
	for _, info := range infos {
		group := describe(info.GroupInfo).Key
		name := describe(info.NameInfo)
		out = append(out, vsphere.PerformanceCounter{
			Key:         info.Key,
			Name:        group + "." + name.Key + "." + string(info.RollupType),
			Group:       group,
			Unit:        describe(info.UnitInfo).Key,
			Rollup:      string(info.RollupType),
			StatsType:   string(info.StatsType),
			Level:       info.Level,
			Description: name.Summary,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// sample returns the most recent real-time value of each available counter
// in names for entity. Counters the endpoint does not publish are skipped.
func (c *Client) sample(ctx context.Context, entity types.ManagedObjectReference, names []string) ([]vsphere.MetricSample, error) {
	counters, err := c.perf.CounterInfoByName(ctx)
	if err != nil {
		return nil, err
	}
	var available []string
	for _, n := range names {
		if _, ok := counters[n]; ok {
			available = append(available, n)
		}
	}
	out := []vsphere.MetricSample{}
	if len(available) == 0 {
		return out, nil
	}

	spec := types.PerfQuerySpec{
		MaxSample:  1,
		IntervalId: realtimeInterval,
		MetricId:   []types.PerfMetricId{{Instance: ""}},
	}
	raw, err := c.perf.SampleByName(ctx, spec, available, []types.ManagedObjectReference{entity})
	if err != nil {
		return nil, err
	}
	series, err := c.perf.ToMetricSeries(ctx, raw)
	if err != nil {
		return nil, err
	}
	for _, em := range series {
		for _, s := range em.Value {
			if len(s.Value) == 0 {
				continue
			}
			unit := ""
			if info, ok := counters[s.Name]; ok {
				unit = describe(info.UnitInfo).Key
			}
			v := float64(s.Value[len(s.Value)-1])
			if unit == "percent" {
				v /= 100
			}
			out = append(out, vsphere.MetricSample{
				Counter:  s.Name,
				Instance: s.Instance,
				Unit:     unit,
				Value:    vsphere.Round2(v),
			})
		}
	}
	return out, nil
}

func (c *Client) GetHostPerformance(ctx context.Context, name string) (*vsphere.HostPerformance, error) {
	host, err := c.host(ctx, name)
	if err != nil {
		return nil, err
	}
	samples, err := c.sample(ctx, host.Reference(), hostCounters)
	if err != nil {
		return nil, err
	}
	return &vsphere.HostPerformance{Name: name, IntervalSeconds: realtimeInterval, Samples: samples}, nil
}

func (c *Client) vmSummary(ctx context.Context, name string) (types.ManagedObjectReference, *types.VirtualMachineSummary, error) {
	vm, err := c.vm(ctx, name)
	if err != nil {
		return types.ManagedObjectReference{}, nil, err
	}
	var mvm mo.VirtualMachine
	if err := vm.Properties(ctx, vm.Reference(), []string{"summary"}, &mvm); err != nil {
		return types.ManagedObjectReference{}, nil, err
	}
	return vm.Reference(), &mvm.Summary, nil
}

func (c *Client) GetVMSummaryStats(ctx context.Context, name string) (*vsphere.VMSummaryStats, error) {
	_, s, err := c.vmSummary(ctx, name)
	if err != nil {
		return nil, err
	}
	qs := s.QuickStats
	stats := &vsphere.VMSummaryStats{
		Name:               name,
		PowerState:         string(s.Runtime.PowerState),
		OverallStatus:      string(s.OverallStatus),
		CPUUsageMhz:        int64(qs.OverallCpuUsage),
		GuestMemoryUsageMB: int64(qs.GuestMemoryUsage),
		HostMemoryUsageMB:  int64(qs.HostMemoryUsage),
		UptimeSeconds:      int64(qs.UptimeSeconds),
	}
	if st := s.Storage; st != nil {
		stats.CommittedStorageGB = vsphere.BytesToGB(st.Committed)
		stats.UncommittedStorageGB = vsphere.BytesToGB(st.Uncommitted)
	}
	return stats, nil
}

// GetVMPerformance combines quick stats with the real-time network counters.
// Network rates stay zero for powered-off VMs or when sampling fails.
func (c *Client) GetVMPerformance(ctx context.Context, name string) (*vsphere.VMPerformance, error) {
	ref, s, err := c.vmSummary(ctx, name)
	if err != nil {
		return nil, err
	}
	qs := s.QuickStats
	perf := &vsphere.VMPerformance{
		Name:            name,
		CPUUsageMhz:     int64(qs.OverallCpuUsage),
		CPUUsagePercent: vsphere.Percent(float64(qs.OverallCpuUsage), float64(s.Runtime.MaxCpuUsage)),
		MemoryUsageMB:   int64(qs.GuestMemoryUsage),
	}
	perf.MemoryUsagePercent = vsphere.Percent(float64(qs.GuestMemoryUsage), float64(s.Config.MemorySizeMB))
	if st := s.Storage; st != nil {
		perf.StorageUsageGB = vsphere.BytesToGB(st.Committed)
	}

	if s.Runtime.PowerState != types.VirtualMachinePowerStatePoweredOn {
		return perf, nil
	}
	samples, err := c.sample(ctx, ref, vmNetworkCounters)
	if err != nil {
		c.log.WarnContext(ctx, "vcenter.vm.perf.sample_fail", slog.String("vm", name), slog.String("err", err.Error()))
		return perf, nil
	}
	for _, m := range samples {
		switch m.Counter {
		case "net.transmitted.average":
			perf.NetworkTransmitKBps += m.Value
		case "net.received.average":
			perf.NetworkReceiveKBps += m.Value
		}
	}
	return perf, nil
}

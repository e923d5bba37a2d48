package vcenter

import (
	"context"
	"math"

	"github.com/ggoodman/esxi-mcp-server/vsphere"
	"github.com/vmware/govmomi/vim25/mo"
)

func (c *Client) hostProps(ctx context.Context, name string, props []string) (*mo.HostSystem, error) {
	host, err := c.host(ctx, name)
	if err != nil {
		return nil, err
	}
	var mh mo.HostSystem
	if err := host.Properties(ctx, host.Reference(), props, &mh); err != nil {
		return nil, err
	}
	return &mh, nil
}

func (c *Client) GetHostDetails(ctx context.Context, name string) (*vsphere.HostDetails, error) {
	mh, err := c.hostProps(ctx, name, []string{"summary", "vm"})
	if err != nil {
		return nil, err
	}
	s := mh.Summary
	d := &vsphere.HostDetails{
		Name:          name,
		UptimeSeconds: int64(s.QuickStats.Uptime),
		VMCount:       len(mh.Vm),
	}
	if hw := s.Hardware; hw != nil {
		d.Vendor = hw.Vendor
		d.Model = hw.Model
		d.CPUModel = hw.CpuModel
		d.CPUCores = int(hw.NumCpuCores)
		d.CPUThreads = int(hw.NumCpuThreads)
		d.CPUMhz = int(hw.CpuMhz)
		d.MemoryGB = vsphere.BytesToGB(hw.MemorySize)
	}
	if s.Config.Product != nil {
		d.Product = s.Config.Product.FullName
		d.Version = s.Config.Product.Version
		d.Build = s.Config.Product.Build
	}
	if rt := s.Runtime; rt != nil {
		d.ConnectionState = string(rt.ConnectionState)
		d.PowerState = string(rt.PowerState)
		d.InMaintenanceMode = rt.InMaintenanceMode
	}
	return d, nil
}

func (c *Client) GetHostPerformanceMetrics(ctx context.Context, name string) (*vsphere.HostMetrics, error) {
	mh, err := c.hostProps(ctx, name, []string{"summary"})
	if err != nil {
		return nil, err
	}
	s := mh.Summary
	m := &vsphere.HostMetrics{
		Name:          name,
		CPUUsageMhz:   int64(s.QuickStats.OverallCpuUsage),
		MemoryUsageMB: int64(s.QuickStats.OverallMemoryUsage),
		UptimeSeconds: int64(s.QuickStats.Uptime),
	}
	if hw := s.Hardware; hw != nil {
		m.CPUCapacityMhz = int64(hw.CpuMhz) * int64(hw.NumCpuCores)
		m.MemoryCapacityMB = hw.MemorySize / (1024 * 1024)
	}
	m.CPUUsagePercent = vsphere.Percent(float64(m.CPUUsageMhz), float64(m.CPUCapacityMhz))
	m.MemoryUsagePercent = vsphere.Percent(float64(m.MemoryUsageMB), float64(m.MemoryCapacityMB))
	return m, nil
}

// GetHostHardwareHealth reports the numeric sensors of the host's health
// system. Hosts without a health provider return an empty sensor list.
func (c *Client) GetHostHardwareHealth(ctx context.Context, name string) (*vsphere.HardwareHealth, error) {
	mh, err := c.hostProps(ctx, name, []string{"overallStatus", "runtime.healthSystemRuntime"})
	if err != nil {
		return nil, err
	}
	h := &vsphere.HardwareHealth{
		Name:          name,
		OverallStatus: string(mh.OverallStatus),
		Sensors:       []vsphere.SensorReading{},
	}
	hs := mh.Runtime.HealthSystemRuntime
	if hs == nil || hs.SystemHealthInfo == nil {
		return h, nil
	}
	for _, s := range hs.SystemHealthInfo.NumericSensorInfo {
		h.Sensors = append(h.Sensors, vsphere.SensorReading{
			Name:    s.Name,
			Type:    s.SensorType,
			Health:  describe(s.HealthState).Key,
			Reading: vsphere.Round2(float64(s.CurrentReading) * math.Pow10(int(s.UnitModifier))),
			Units:   s.BaseUnits,
		})
	}
	return h, nil
}

package vcenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ggoodman/esxi-mcp-server/vsphere"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
)

func (c *Client) CreateVM(ctx context.Context, name string, cpu, memoryMB int, datastore, network string) (string, error) {
	return c.CreateVMCustom(ctx, vsphere.VMSpec{
		Name:            name,
		CPU:             cpu,
		MemoryMB:        memoryMB,
		DiskSizeGB:      vsphere.DefaultDiskSizeGB,
		GuestID:         vsphere.DefaultGuestID,
		Datastore:       datastore,
		Network:         network,
		ThinProvisioned: true,
	})
}

func (c *Client) CreateVMCustom(ctx context.Context, spec vsphere.VMSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	if err := c.ensureAbsent(ctx, spec.Name); err != nil {
		return "", err
	}
	ds, err := c.datastore(ctx, spec.Datastore)
	if err != nil {
		return "", err
	}
	pool, err := c.resourcePool(ctx)
	if err != nil {
		return "", err
	}
	folders, err := c.dc.Folders(ctx)
	if err != nil {
		return "", err
	}
	devices, err := c.devices(ctx, spec, ds)
	if err != nil {
		return "", err
	}
	changes, err := devices.ConfigSpec(types.VirtualDeviceConfigSpecOperationAdd)
	if err != nil {
		return "", err
	}

	config := types.VirtualMachineConfigSpec{
		Name:         spec.Name,
		GuestId:      spec.GuestID,
		NumCPUs:      int32(spec.CPU),
		MemoryMB:     int64(spec.MemoryMB),
		Annotation:   spec.Annotation,
		Files:        &types.VirtualMachineFileInfo{VmPathName: fmt.Sprintf("[%s]", ds.Name())},
		DeviceChange: changes,
	}
	task, err := folders.VmFolder.CreateVM(ctx, config, pool, nil)
	if err != nil {
		return "", err
	}
	if err := task.Wait(ctx); err != nil {
		c.log.ErrorContext(ctx, "vcenter.vm.create.fail", slog.String("vm", spec.Name), slog.String("err", err.Error()))
		return "", fmt.Errorf("create %s: %w", spec.Name, err)
	}
	c.log.InfoContext(ctx, "vcenter.vm.create.ok", slog.String("vm", spec.Name), slog.String("datastore", ds.Name()))
	return vsphere.CreatedMessage(spec.Name), nil
}

// devices builds the SCSI controller, boot disk and vmxnet3 NIC of a new VM.
func (c *Client) devices(ctx context.Context, spec vsphere.VMSpec, ds *object.Datastore) (object.VirtualDeviceList, error) {
	var devices object.VirtualDeviceList

	scsi, err := devices.CreateSCSIController("lsilogic")
	if err != nil {
		return nil, err
	}
	devices = append(devices, scsi)

	ctrl, ok := scsi.(types.BaseVirtualController)
	if !ok {
		return nil, fmt.Errorf("unexpected controller type %T", scsi)
	}
	disk := devices.CreateDisk(ctrl, ds.Reference(), "")
	size := spec.DiskSizeGB
	if size == 0 {
		size = vsphere.DefaultDiskSizeGB
	}
	disk.CapacityInKB = int64(size) * 1024 * 1024
	if backing, ok := disk.Backing.(*types.VirtualDiskFlatVer2BackingInfo); ok {
		backing.ThinProvisioned = types.NewBool(spec.ThinProvisioned)
	}
	devices = append(devices, disk)

	net, err := c.network(ctx, spec.Network)
	if err != nil {
		return nil, err
	}
	backing, err := net.EthernetCardBackingInfo(ctx)
	if err != nil {
		return nil, err
	}
	nic, err := devices.CreateEthernetCard("vmxnet3", backing)
	if err != nil {
		return nil, err
	}
	return append(devices, nic), nil
}

func (c *Client) ensureAbsent(ctx context.Context, name string) error {
	_, err := c.lookup(ctx, "VirtualMachine", name)
	switch {
	case err == nil:
		return vsphere.AlreadyExists("VM", name)
	case errors.Is(err, vsphere.ErrNotFound):
		return nil
	default:
		return err
	}
}

func (c *Client) CloneVM(ctx context.Context, templateName, newName string) (string, error) {
	src, err := c.vm(ctx, templateName)
	if errors.Is(err, vsphere.ErrNotFound) {
		return "", vsphere.NotFound("Template", templateName)
	}
	if err != nil {
		return "", err
	}
	if err := c.ensureAbsent(ctx, newName); err != nil {
		return "", err
	}
	ds, err := c.datastore(ctx, "")
	if err != nil {
		return "", err
	}
	pool, err := c.resourcePool(ctx)
	if err != nil {
		return "", err
	}
	folders, err := c.dc.Folders(ctx)
	if err != nil {
		return "", err
	}

	poolRef := pool.Reference()
	dsRef := ds.Reference()
	spec := types.VirtualMachineCloneSpec{
		Location: types.VirtualMachineRelocateSpec{Pool: &poolRef, Datastore: &dsRef},
	}
	task, err := src.Clone(ctx, folders.VmFolder, newName, spec)
	if err != nil {
		return "", err
	}
	if err := task.Wait(ctx); err != nil {
		c.log.ErrorContext(ctx, "vcenter.vm.clone.fail", slog.String("vm", newName), slog.String("err", err.Error()))
		return "", fmt.Errorf("clone %s: %w", newName, err)
	}
	c.log.InfoContext(ctx, "vcenter.vm.clone.ok", slog.String("vm", newName), slog.String("source", templateName))
	return vsphere.ClonedMessage(templateName, newName), nil
}

// DeleteVM powers the VM off first when it is running.
func (c *Client) DeleteVM(ctx context.Context, name string) (string, error) {
	vm, err := c.vm(ctx, name)
	if err != nil {
		return "", err
	}
	state, err := vm.PowerState(ctx)
	if err != nil {
		return "", err
	}
	if state == types.VirtualMachinePowerStatePoweredOn {
		task, err := vm.PowerOff(ctx)
		if err != nil {
			return "", err
		}
		if err := task.Wait(ctx); err != nil {
			return "", fmt.Errorf("power off %s: %w", name, err)
		}
	}
	task, err := vm.Destroy(ctx)
	if err != nil {
		return "", err
	}
	if err := task.Wait(ctx); err != nil {
		return "", fmt.Errorf("delete %s: %w", name, err)
	}
	c.log.InfoContext(ctx, "vcenter.vm.delete.ok", slog.String("vm", name))
	return vsphere.DeletedMessage(name), nil
}

func (c *Client) PowerOnVM(ctx context.Context, name string) (string, error) {
	vm, err := c.vm(ctx, name)
	if err != nil {
		return "", err
	}
	state, err := vm.PowerState(ctx)
	if err != nil {
		return "", err
	}
	if state == types.VirtualMachinePowerStatePoweredOn {
		return vsphere.PoweredOnMessage(name, true), nil
	}
	task, err := vm.PowerOn(ctx)
	if err != nil {
		return "", err
	}
	if err := task.Wait(ctx); err != nil {
		return "", fmt.Errorf("power on %s: %w", name, err)
	}
	return vsphere.PoweredOnMessage(name, false), nil
}

func (c *Client) PowerOffVM(ctx context.Context, name string) (string, error) {
	vm, err := c.vm(ctx, name)
	if err != nil {
		return "", err
	}
	state, err := vm.PowerState(ctx)
	if err != nil {
		return "", err
	}
	if state == types.VirtualMachinePowerStatePoweredOff {
		return vsphere.PoweredOffMessage(name, true), nil
	}
	task, err := vm.PowerOff(ctx)
	if err != nil {
		return "", err
	}
	if err := task.Wait(ctx); err != nil {
		return "", fmt.Errorf("power off %s: %w", name, err)
	}
	return vsphere.PoweredOffMessage(name, false), nil
}

func (c *Client) ListVMs(ctx context.Context) ([]string, error) {
	vms, err := c.virtualMachines(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(vms))
	for _, vm := range vms {
		names = append(names, vm.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) ListTemplates(ctx context.Context) ([]string, error) {
	vms, err := c.virtualMachines(ctx)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, vm := range vms {
		if vm.Config != nil && vm.Config.Template {
			names = append(names, vm.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) virtualMachines(ctx context.Context) ([]mo.VirtualMachine, error) {
	var vms []mo.VirtualMachine
	if err := c.retrieve(ctx, "VirtualMachine", []string{"name", "config.template"}, &vms); err != nil {
		return nil, err
	}
	return vms, nil
}

func (c *Client) GetVMDetails(ctx context.Context, name string) (*vsphere.VMDetails, error) {
	vm, err := c.vm(ctx, name)
	if err != nil {
		return nil, err
	}
	var mvm mo.VirtualMachine
	if err := vm.Properties(ctx, vm.Reference(), []string{"summary", "datastore", "network"}, &mvm); err != nil {
		return nil, err
	}

	s := mvm.Summary
	d := &vsphere.VMDetails{
		Name:          name,
		PowerState:    string(s.Runtime.PowerState),
		OverallStatus: string(s.OverallStatus),
	}
	d.GuestOS = s.Config.GuestFullName
	d.CPUCount = int(s.Config.NumCpu)
	d.MemoryMB = int(s.Config.MemorySizeMB)
	d.UUID = s.Config.Uuid
	d.Annotation = s.Config.Annotation
	d.IsTemplate = s.Config.Template
	if s.Guest != nil {
		d.IPAddress = s.Guest.IpAddress
		d.ToolsStatus = s.Guest.ToolsRunningStatus
	}
	if s.Runtime.Host != nil {
		hosts, err := c.names(ctx, []types.ManagedObjectReference{*s.Runtime.Host})
		if err != nil {
			return nil, err
		}
		if len(hosts) > 0 {
			d.Host = hosts[0]
		}
	}
	if d.Datastores, err = c.names(ctx, mvm.Datastore); err != nil {
		return nil, err
	}
	if d.Networks, err = c.names(ctx, mvm.Network); err != nil {
		return nil, err
	}
	return d, nil
}

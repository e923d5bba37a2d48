// Package vcenter implements vsphere.Client against a vCenter Server or a
// standalone ESXi host using govmomi.
package vcenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/ggoodman/esxi-mcp-server/vsphere"
	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/performance"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
)

var (
	_ vsphere.Client              = (*Client)(nil)
	_ vsphere.AuthenticationAware = (*Client)(nil)
)

// ErrMissingHost is returned by New when Options.Host is empty.
var ErrMissingHost = errors.New("vcenter: host is required")

// Options identifies the endpoint and the default placement for new VMs.
type Options struct {
	// Host is a host name, host:port or full https URL of the SDK endpoint.
	Host     string
	User     string
	Password string

	// Datacenter scopes every lookup. Empty selects the endpoint's only
	// datacenter.
	Datacenter string
	// Cluster selects the resource pool for new and cloned VMs.
	Cluster   string
	Datastore string
	Network   string

	// Insecure skips TLS certificate verification.
	Insecure bool
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client is a logged-in session against one datacenter.
type Client struct {
	opts Options
	log  *slog.Logger

	vc     *govmomi.Client
	finder *find.Finder
	dc     *object.Datacenter
	views  *view.Manager
	perf   *performance.Manager

	authenticated atomic.Bool
}

// New logs in to the endpoint described by o and resolves the datacenter.
func New(ctx context.Context, o Options, opts ...Option) (*Client, error) {
	if o.Host == "" {
		return nil, ErrMissingHost
	}
	c := &Client{opts: o, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(c)
	}

	u, err := soap.ParseURL(o.Host)
	if err != nil {
		return nil, fmt.Errorf("vcenter: parse url: %w", err)
	}
	u.User = url.UserPassword(o.User, o.Password)

	start := time.Now()
	vc, err := govmomi.NewClient(ctx, u, o.Insecure)
	if err != nil {
		c.log.ErrorContext(ctx, "vcenter.connect.fail", slog.String("host", u.Host), slog.String("err", err.Error()))
		return nil, fmt.Errorf("vcenter: connect to %s: %w", u.Host, err)
	}

	finder := find.NewFinder(vc.Client, true)
	var dc *object.Datacenter
	if o.Datacenter != "" {
		dc, err = finder.Datacenter(ctx, o.Datacenter)
	} else {
		dc, err = finder.DefaultDatacenter(ctx)
	}
	if err != nil {
		_ = vc.Logout(ctx)
		return nil, fmt.Errorf("vcenter: datacenter: %w", err)
	}
	finder.SetDatacenter(dc)

	c.vc = vc
	c.finder = finder
	c.dc = dc
	c.views = view.NewManager(vc.Client)
	c.perf = performance.NewManager(vc.Client)

	c.log.InfoContext(ctx, "vcenter.connect.ok",
		slog.String("host", u.Host),
		slog.String("datacenter", dc.Name()),
		slog.Duration("dur", time.Since(start)),
	)
	return c, nil
}

// Close ends the session.
func (c *Client) Close(ctx context.Context) error {
	return c.vc.Logout(ctx)
}

// SetAuthenticated mirrors the API-key gate.
func (c *Client) SetAuthenticated(b bool) {
	c.authenticated.Store(b)
	c.log.Debug("vcenter.authenticated", slog.Bool("authenticated", b))
}

// Authenticated reports the last value passed to SetAuthenticated.
func (c *Client) Authenticated() bool { return c.authenticated.Load() }

// retrieve loads props of every object of kind in the datacenter into dst,
// which must be a pointer to a slice of mo types.
func (c *Client) retrieve(ctx context.Context, kind string, props []string, dst any) error {
	v, err := c.views.CreateContainerView(ctx, c.dc.Reference(), []string{kind}, true)
	if err != nil {
		return err
	}
	defer func() { _ = v.Destroy(context.WithoutCancel(ctx)) }()
	return v.Retrieve(ctx, []string{kind}, props, dst)
}

var kindLabels = map[string]string{
	"VirtualMachine": "VM",
	"HostSystem":     "Host",
}

// lookup resolves the first object of kind whose name is name.
func (c *Client) lookup(ctx context.Context, kind, name string) (types.ManagedObjectReference, error) {
	v, err := c.views.CreateContainerView(ctx, c.dc.Reference(), []string{kind}, true)
	if err != nil {
		return types.ManagedObjectReference{}, err
	}
	defer func() { _ = v.Destroy(context.WithoutCancel(ctx)) }()

	refs, err := v.Find(ctx, []string{kind}, property.Match{"name": name})
	if err != nil {
		return types.ManagedObjectReference{}, err
	}
	if len(refs) == 0 {
		label := kindLabels[kind]
		if label == "" {
			label = kind
		}
		return types.ManagedObjectReference{}, vsphere.NotFound(label, name)
	}
	return refs[0], nil
}

func (c *Client) vm(ctx context.Context, name string) (*object.VirtualMachine, error) {
	ref, err := c.lookup(ctx, "VirtualMachine", name)
	if err != nil {
		return nil, err
	}
	return object.NewVirtualMachine(c.vc.Client, ref), nil
}

func (c *Client) host(ctx context.Context, name string) (*object.HostSystem, error) {
	ref, err := c.lookup(ctx, "HostSystem", name)
	if err != nil {
		return nil, err
	}
	return object.NewHostSystem(c.vc.Client, ref), nil
}

// names resolves references to their inventory names.
func (c *Client) names(ctx context.Context, refs []types.ManagedObjectReference) ([]string, error) {
	out := []string{}
	if len(refs) == 0 {
		return out, nil
	}
	var entities []mo.ManagedEntity
	pc := property.DefaultCollector(c.vc.Client)
	if err := pc.Retrieve(ctx, refs, []string{"name"}, &entities); err != nil {
		return nil, err
	}
	for _, e := range entities {
		out = append(out, e.Name)
	}
	return out, nil
}

func (c *Client) datastore(ctx context.Context, name string) (*object.Datastore, error) {
	if name == "" {
		name = c.opts.Datastore
	}
	ds, err := c.finder.DatastoreOrDefault(ctx, name)
	if err != nil {
		return nil, notFound(err, "Datastore", name)
	}
	return ds, nil
}

func (c *Client) network(ctx context.Context, name string) (object.NetworkReference, error) {
	if name == "" {
		name = c.opts.Network
	}
	n, err := c.finder.NetworkOrDefault(ctx, name)
	if err != nil {
		return nil, notFound(err, "Network", name)
	}
	return n, nil
}

// resourcePool returns the configured cluster's root pool, or the
// datacenter's default pool when no cluster is configured.
func (c *Client) resourcePool(ctx context.Context) (*object.ResourcePool, error) {
	if c.opts.Cluster != "" {
		cluster, err := c.finder.ClusterComputeResource(ctx, c.opts.Cluster)
		if err != nil {
			return nil, notFound(err, "Cluster", c.opts.Cluster)
		}
		return cluster.ResourcePool(ctx)
	}
	pool, err := c.finder.DefaultResourcePool(ctx)
	if err == nil {
		return pool, nil
	}
	pools, lerr := c.finder.ResourcePoolList(ctx, "*/Resources")
	if lerr != nil || len(pools) == 0 {
		return nil, err
	}
	return pools[0], nil
}

// notFound maps finder misses onto vsphere.ErrNotFound.
func notFound(err error, kind, name string) error {
	var nf *find.NotFoundError
	if errors.As(err, &nf) {
		return vsphere.NotFound(kind, name)
	}
	var dnf *find.DefaultNotFoundError
	if errors.As(err, &dnf) {
		return vsphere.NotFound(kind, name)
	}
	return err
}

func describe(d types.BaseElementDescription) *types.ElementDescription {
	if d == nil {
		return &types.ElementDescription{}
	}
	return d.GetElementDescription()
}

package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/NVIDIA/btrfs-scrub/blockio"
	"github.com/NVIDIA/btrfs-scrub/csum"
	"github.com/NVIDIA/btrfs-scrub/extentindex"
	"github.com/NVIDIA/btrfs-scrub/lifecycle"
	"github.com/NVIDIA/btrfs-scrub/logger"
	"github.com/NVIDIA/btrfs-scrub/raidmap"
	"github.com/NVIDIA/btrfs-scrub/ramdevice"
	"github.com/NVIDIA/btrfs-scrub/scrub"
	"github.com/NVIDIA/btrfs-scrub/scrubconfig"
)

// controlEndpoint and synergyPump are the two subsystems a serve process
// brings up and tears down in order, via package lifecycle.

type controlEndpoint struct {
	addr string
	mgr *scrub.Manager
	server *http.Server
}

func (c *controlEndpoint) Up() error {
	c.server = &http.Server{Addr: c.addr, Handler: newControlMux(c.mgr)}
	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorfWithError(err, "scrubctl: control endpoint on %s exited", c.addr)
		}
	}()
	fmt.Printf("control endpoint listening on %s\n", c.addr)
	return nil
}

func (c *controlEndpoint) Down() error {
	return c.server.Close()
}

type synergyPump struct {
	mgr *scrub.Manager
	id func() uuid.UUID
	stopCh chan struct{}
}

func (p *synergyPump) Up() error {
	p.stopCh = make(chan struct{})
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.mgr.PumpSynergyEvents(p.id(), 256); err != nil {
					return
				}
			case <-p.stopCh:
				return
			}
		}
	}()
	return nil
}

func (p *synergyPump) Down() error {
	close(p.stopCh)
	return nil
}

var configFile string

var serveCmd = &cobra.Command{
	Use: "serve",
	Short: "Start a scrub run and host its control endpoint",
	RunE: serveRunE,
}

func init() {
	serveCmd.Flags().StringVar(&configFile, "config", "", "scrub config file (YAML, viper-loadable)")
	rootCmd.AddCommand(serveCmd)
}

func serveRunE(cmd *cobra.Command, args []string) error {
	cfg, err := scrubconfig.Load(configFile)
	if err != nil {
		return err
	}

	device, mapper, commit, err := buildFixture(cfg)
	if err != nil {
		return fmt.Errorf("scrubctl: building device/mapper/commit-root: %w", err)
	}
	if err := cfg.Validate(mapper.StripeLen()); err != nil {
		return err
	}

	opts := scrub.Options{
		DeviceID: cfg.DeviceID,
		StartLogical: cfg.StartLogical,
		EndLogical: cfg.EndLogical,
		ReadOnly: cfg.ReadOnly,
		DeadlineSecs: cfg.DeadlineSecs,
		BGFlags: scrub.BGFlags(cfg.BGFlags),
		PageSize: cfg.PageSize,
		SectorSize: cfg.SectorSize,
		NodeSize: cfg.NodeSize,
		PagesPerBatch: cfg.PagesPerBatch,
		MaxPoolSize: cfg.MaxPoolSize,
		MaxMirrors: cfg.MaxMirrors,
		SynergyEnabled: cfg.SynergyEnabled,
		DeviceResolver: func(name string) blockio.Device {
			if name == device.Name() {
				return device
			}
			return nil
		},
		LockHoldTimeLimit: cfg.LockHoldTimeLimit,
	}

	mgr := scrub.NewManager()
	handle, err := mgr.Start(opts, device, mapper, commit)
	if err != nil {
		return err
	}
	fmt.Printf("started run %s on device %s\n", handle.ID, handle.DeviceID)

	lifecycle.Register("control-endpoint", &controlEndpoint{addr: controlAddr, mgr: mgr})
	if cfg.SynergyEnabled {
		lifecycle.Register("synergy-pump", &synergyPump{mgr: mgr, id: func() uuid.UUID { return handle.ID }})
	}
	if err := lifecycle.Up(); err != nil {
		return fmt.Errorf("scrubctl: starting subsystems: %w", err)
	}

	err = mgr.Wait(handle.ID)
	if derr := lifecycle.Down(); derr != nil {
		logger.ErrorfWithError(derr, "scrubctl: stopping subsystems")
	}
	if err != nil {
		return err
	}

	stats, _ := mgr.Progress(handle.ID)
	fmt.Printf("run %s finished: %+v\n", handle.ID, stats)
	return nil
}

// buildFixture assembles an in-memory device, a single-chunk RAID mapper and
// a fully-seeded commit root covering [cfg.StartLogical, cfg.EndLogical) so
// that serve can exercise a complete walk without a real chunk tree or block
// layer backing it. Every sector is seeded as a zero-filled,
// correctly-checksummed data extent; operators wanting to see recovery
// paths drive them through a test harness against package scrub directly,
// not through this CLI.
func buildFixture(cfg scrubconfig.Config) (*ramdevice.Device, raidmap.Mapper, *extentindex.CommitRoot, error) {
	if cfg.EndLogical <= cfg.StartLogical {
		return nil, nil, nil, fmt.Errorf("scrubctl: end_logical must be greater than start_logical")
	}
	rangeLen := cfg.EndLogical - cfg.StartLogical
	stripeLen := cfg.NodeSize
	if rangeLen > stripeLen {
		stripeLen = rangeLen
	}

	device := ramdevice.New(cfg.DeviceID, cfg.EndLogical)
	mapper := raidmap.NewStaticMapper(raidmap.Single, []string{cfg.DeviceID}, cfg.StartLogical, rangeLen, stripeLen, cfg.StartLogical)

	commit := extentindex.NewCommitRoot()
	if err := commit.PutExtent(extentindex.ExtentInfo{
		Logical: cfg.StartLogical,
		Length: rangeLen,
		Flags: 1, // DATA
		Generation: 1,
	}); err != nil {
		return nil, nil, nil, err
	}

	zeroSector := make([]byte, cfg.SectorSize)
	for off := cfg.StartLogical; off < cfg.EndLogical; off += cfg.SectorSize {
		length := cfg.SectorSize
		if off+length > cfg.EndLogical {
			length = cfg.EndLogical - off
		}
		sectorCsum := csum.Checksum(zeroSector[:length])
		if err := commit.PutCsum(extentindex.CsumEntry{Logical: off, Length: length, Csum: sectorCsum}); err != nil {
			return nil, nil, nil, err
		}
	}

	return device, mapper, commit, nil
}

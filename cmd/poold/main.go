// Package main runs a pool worker daemon: a perdure engine hosting the
// resource lifecycle machines, the pool refresher and the heartbeat
// monitor, backed by a BoltDB data store and the Azure provider.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/perdure/perdure"
	"github.com/perdure/perdure/cloud/azure"
	"github.com/perdure/perdure/flags"
	"github.com/perdure/perdure/handler/disk"
	"github.com/perdure/perdure/handler/netif"
	"github.com/perdure/perdure/handler/vm"
	"github.com/perdure/perdure/persistence"
	"github.com/perdure/perdure/persistence/provider/boltdb"
	"github.com/perdure/perdure/pool"
	"github.com/perdure/perdure/scheduler"
	"github.com/perdure/perdure/watchdog"
)

// newContext returns a cancelable context that is canceled when the
// process receives a SIGTERM or SIGINT.
func newContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
		case <-sig:
			cancel()
		}
	}()

	return ctx, cancel
}

func main() {
	ctx, cancel := newContext()
	defer cancel()

	if err := run(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Println(err)
			os.Exit(1)
		}
	}
}

func run(ctx context.Context) error {
	logger := &logging.StandardLogger{
		Target: log.New(os.Stderr, "", 0),
	}

	azureCfg := azure.Config{
		SubscriptionID: os.Getenv("AZURE_SUBSCRIPTION_ID"),
	}
	resourceGroup := os.Getenv("AZURE_RESOURCE_GROUP")

	disks, err := azure.NewDiskClient(azureCfg)
	if err != nil {
		return err
	}

	interfaces, err := azure.NewInterfaceClient(azureCfg)
	if err != nil {
		return err
	}

	machines, err := azure.NewVirtualMachineClient(azureCfg)
	if err != nil {
		return err
	}

	provider := &boltdb.FileProvider{
		Path: "/var/run/poold.boltdb",
	}

	ds, err := provider.Open(ctx, perdure.DefaultApplicationKey)
	if err != nil {
		return err
	}
	defer ds.Close()

	diskMachines := &disk.Machines{Client: disks}
	netifMachines := &netif.Machines{Client: interfaces}
	vmMachines := &vm.Machines{
		Client:         machines,
		DataStore:      ds,
		SubscriptionID: azureCfg.SubscriptionID,
		ResourceGroup:  resourceGroup,
	}

	featureFlags := flags.Static{
		"pool.refresh":                true,
		watchdog.FlagMonitorHeartbeat: true,
	}

	var engine *perdure.Engine

	monitor := &watchdog.Monitor{
		Flags:  featureFlags,
		Logger: logger,
		Repairer: watchdog.RepairFunc(
			func(ctx context.Context, environmentID, resourceID string) error {
				logging.Log(logger, "marking %s unavailable", environmentID)
				return nil
			},
		),
	}

	broker := &pool.Broker{
		Allocator: &pool.Allocator{
			DataStore: ds,
			Logger:    logger,
		},
		Provisioners: map[persistence.ResourceType]pool.Provisioner{
			persistence.ResourceTypeCompute: {
				CreateHandler: vm.CreateHandler,
				NewCreatePayload: func(sku, location string) interface{} {
					return vm.CreateRequest{
						SkuName:  sku,
						Location: location,
					}
				},
				DeleteHandler: vm.DeleteHandler,
				NewDeletePayload: func(rec persistence.ResourceRecord) interface{} {
					return vm.DeleteRequest{
						Resource: vmMachines.ResourceInfo(rec.ID),
					}
				},
			},
		},
		Logger: logger,
	}

	refresher := &pool.Refresher{
		DataStore: ds,
		Broker:    broker,
		Definitions: []pool.Definition{
			{
				SkuName:    "Standard_F4",
				Type:       persistence.ResourceTypeCompute,
				Location:   "eastus",
				TargetSize: 4,
			},
		},
	}

	engine = perdure.New(
		perdure.WithMachine(diskMachines.NewDeleteMachine()),
		perdure.WithMachine(netifMachines.NewCreateMachine()),
		perdure.WithMachine(netifMachines.NewDeleteMachine()),
		perdure.WithMachine(vmMachines.NewCreateMachine()),
		perdure.WithMachine(vmMachines.NewDeleteMachine()),
		perdure.WithMachine(refresher.NewMachine()),
		perdure.WithMachine(monitor.NewMachine()),
		perdure.WithJob(scheduler.Job{
			Name:    "pool-refresh",
			Spec:    "@every 5m",
			Handler: pool.RefreshHandler,
			Flag:    "pool.refresh",
		}),
		perdure.WithPersistence(provider),
		perdure.WithFlags(featureFlags),
		perdure.WithLogger(logger),
	)

	monitor.Executor = engine
	broker.Executor = engine

	return engine.Run(ctx)
}

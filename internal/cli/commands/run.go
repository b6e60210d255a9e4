package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kafkesc/kcl-lag-exporter/internal/clusterstatus"
	"github.com/kafkesc/kcl-lag-exporter/internal/consumergroups"
	"github.com/kafkesc/kcl-lag-exporter/internal/kafkaclient"
	"github.com/kafkesc/kcl-lag-exporter/internal/lagregister"
	"github.com/kafkesc/kcl-lag-exporter/internal/logger"
	"github.com/kafkesc/kcl-lag-exporter/internal/offsetstopic"
	"github.com/kafkesc/kcl-lag-exporter/internal/partitionoffsets"
	"github.com/kafkesc/kcl-lag-exporter/internal/server"
	"github.com/kafkesc/kcl-lag-exporter/internal/shutdown"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the lag exporter service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

// run wires the five core components together and blocks until shutdown
// is requested: each process-lifetime task runs in its own errgroup
// goroutine, and all of them select on the same shared stop channel.
func run(ctx context.Context) error {
	log := logger.New("main")

	handles, err := kafkaclient.Dial(cfg.Kafka)
	if err != nil {
		return fmt.Errorf("dialing kafka: %w", err)
	}
	defer handles.Close()

	sig := shutdown.New()
	stopWatch := sig.Watch()
	defer stopWatch()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sig.C()
		cancel()
	}()

	csEmitter := clusterstatus.New(handles.Admin, cfg.ClusterStatus.FetchInterval, cfg.ClusterStatus.FetchTimeout, cfg.ClusterStatus.SendTimeout)
	cgEmitter := consumergroups.NewEmitter(handles.Admin, cfg.ConsumerGroups.FetchInterval, cfg.ConsumerGroups.FetchTimeout, cfg.ConsumerGroups.SendTimeout)

	cgRegister := consumergroups.NewRegister()
	poRegister := partitionoffsets.New(cfg.OffsetsHistory)
	poPoller := partitionoffsets.NewPoller(handles.Client, poRegister, cfg.ConsumerGroups.FetchInterval)

	offsetsConsumer := offsetstopic.New(handles.Client, cfg.Kafka.ConsumerOffsetsTopic, 64)

	lagReg := lagregister.New(cgRegister, poRegister, cfg.Kafka.InternalConsumerGroup, cfg.LagStaleAfter)

	httpServer := server.New(lagReg, cfg.ClusterID)

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { csEmitter.Run(gctx, sig.C()); return nil })
	g.Go(func() error { cgEmitter.Run(gctx, sig.C()); return nil })
	g.Go(func() error { poPoller.Run(gctx, csEmitter.Out(), sig.C()); return nil })
	g.Go(func() error { return offsetsConsumer.Run(gctx, sig.C()) })
	g.Go(func() error { lagReg.Run(gctx, offsetsConsumer.Out(), cfg.ReconcileInterval, sig.C()); return nil })
	g.Go(func() error {
		for {
			select {
			case snap, ok := <-cgEmitter.Out():
				if !ok {
					return nil
				}
				cgRegister.Import(snap)
			case <-sig.C():
				return nil
			}
		}
	})
	g.Go(func() error { return httpServer.Run(gctx, cfg.Server.Addr) })

	log.Infof("kcl-lag-exporter started, cluster_id=%q", cfg.ClusterID)
	err = g.Wait()
	log.Info("kcl-lag-exporter shut down")
	return err
}

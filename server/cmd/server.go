package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"go.ntppool.org/common/metricsserver"
	"go.ntppool.org/common/version"

	"go.ntppool.org/dnsresults/cache"
	"go.ntppool.org/dnsresults/mqttcm"
	"go.ntppool.org/dnsresults/server"
)

type ServerCmd struct {
	Config `embed:""`

	RefreshMode     string        `name:"refresh-mode" enum:"background,on-read" default:"background" help:"Refresh in the background or when a stale snapshot is read"`
	Freshness       time.Duration `default:"60s" help:"Age at which a snapshot is stale"`
	RefreshInterval time.Duration `name:"refresh-interval" default:"30s" help:"Interval between background refreshes"`

	Listen      string `default:":8000" help:"HTTP listen address"`
	MetricsPort int    `default:"9000" help:"Metrics server port" flag:"metrics-port"`
	TLSCert     string `name:"tls-cert" env:"DNSRESULTS_TLS_CERT" help:"TLS certificate file"`
	TLSKey      string `name:"tls-key" env:"DNSRESULTS_TLS_KEY" help:"TLS key file"`

	MQTTBroker   string `name:"mqtt-broker" env:"DNSRESULTS_MQTT_BROKER" help:"Publish snapshots to this MQTT broker URL"`
	MQTTUsername string `name:"mqtt-username" env:"DNSRESULTS_MQTT_USERNAME"`
	MQTTPassword string `name:"mqtt-password" env:"DNSRESULTS_MQTT_PASSWORD"`
}

func (cmd *ServerCmd) Run(ctx context.Context) error {
	ctx, log := setupLogger(ctx, cmd.Debug)

	depEnv, err := cmd.deploymentEnvironment()
	if err != nil {
		log.Error("unknown deployment mode", "deployment_mode", cmd.DeploymentMode, "err", err)
		os.Exit(2)
	}

	mode, err := cache.ParseMode(cmd.RefreshMode)
	if err != nil {
		return err
	}

	tpShutdown, err := InitTracing(ctx, depEnv)
	if err != nil {
		log.WarnContext(ctx, "tracing setup failed", "err", err)
	} else {
		defer func() {
			if err := tpShutdown(context.WithoutCancel(ctx)); err != nil {
				log.Warn("tracing shutdown", "err", err)
			}
		}()
	}

	metricssrv := metricsserver.New()
	version.RegisterMetric("dnsresults", metricssrv.Registry())

	engine, err := cmd.engine(ctx, metricssrv.Registry())
	if err != nil {
		return err
	}

	c := cache.New(log, engine, cache.Options{
		Mode:      mode,
		Freshness: cmd.Freshness,
		Interval:  cmd.RefreshInterval,
	}, metricssrv.Registry())

	g, ctx := errgroup.WithContext(ctx)

	if len(cmd.MQTTBroker) > 0 {
		pub, err := mqttcm.Setup(ctx, mqttcm.Config{
			Broker:   cmd.MQTTBroker,
			ClientID: "dnsresults-" + depEnv.String(),
			Username: cmd.MQTTUsername,
			Password: cmd.MQTTPassword,
			Topics:   mqttcm.NewTopics(depEnv, ""),
		})
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		c.AddPublisher(pub)

		g.Go(func() error {
			<-pub.Done()
			log.Info("mqtt connection done")
			return nil
		})
	}

	srv := server.New(ctx, server.Config{
		Listen:  cmd.Listen,
		TLSCert: cmd.TLSCert,
		TLSKey:  cmd.TLSKey,
		MaxAge:  4 * c.Options().Freshness,
	}, c)

	log.InfoContext(ctx, "starting dnsresults",
		"version", version.Version(),
		"deployment", depEnv.String(),
		"mode", mode,
		"namespace", cmd.Namespace,
		"prefix", cmd.MonitorPrefix,
	)

	g.Go(func() error {
		err := metricssrv.ListenAndServe(ctx, cmd.MetricsPort)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("metrics server error", "err", err)
		}
		return nil
	})

	if mode == cache.ModeBackground {
		g.Go(func() error {
			return c.Run(ctx)
		})
	}

	g.Go(func() error {
		return srv.Run(ctx)
	})

	return g.Wait()
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aromachat/authsync"
	"github.com/aromachat/authsync/domain"
	"github.com/aromachat/authsync/internal/metrics"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream auth events and gate transitions until interrupted",
	Long:  `Subscribes to the provider's event stream and the derived gate state and prints every transition. With METRICS_ADDR set, also serves Prometheus counters for the session, profile, and cache activity it observes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var metricsServer *echo.Echo
		if cfg.MetricsAddr != "" {
			metricsServer = startMetricsServer(ctx, cfg.MetricsAddr)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsServer.Shutdown(shutdownCtx)
			}()
		}

		eventSub := provider.OnAuthEvent(func(ev domain.AuthEvent) {
			switch {
			case ev.Err != nil:
				fmt.Printf("%s  event  %-16s %v\n", stamp(), ev.Kind, ev.Err)
			case ev.Session != nil:
				fmt.Printf("%s  event  %-16s identity=%s expires=%s\n",
					stamp(), ev.Kind, ev.Session.Identity(), ev.Session.ExpiresAt.Format(time.RFC3339))
			default:
				fmt.Printf("%s  event  %-16s\n", stamp(), ev.Kind)
			}
		})
		defer eventSub.Unsubscribe()

		gateSub := manager.OnGateChange(func(g authsync.GateSnapshot) {
			switch g.State {
			case authsync.StateAuthenticated:
				fmt.Printf("%s  gate   %-16s %s <%s>\n", stamp(), g.State, g.User.DisplayName, g.User.Email)
			case authsync.StateSessionOnly:
				fmt.Printf("%s  gate   %-16s identity=%s\n", stamp(), g.State, g.Session.Identity())
			default:
				fmt.Printf("%s  gate   %-16s\n", stamp(), g.State)
			}
		})
		defer gateSub.Unsubscribe()

		manager.Start(ctx)
		fmt.Printf("%s  gate   %-16s (initial)\n", stamp(), manager.Gate().State)

		<-ctx.Done()
		fmt.Println("\nStopping watch.")
		return nil
	},
}

// startMetricsServer exposes the sync layer's Prometheus counters on addr.
func startMetricsServer(ctx context.Context, addr string) *echo.Echo {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics.InitCustomMetrics(reg)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(ctx, "metrics server stopped", err, map[string]any{"addr": addr})
		}
	}()
	appLogger.Info(ctx, "metrics server listening", map[string]any{"addr": addr})
	return e
}

func stamp() string {
	return time.Now().Format("15:04:05.000")
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "outreach-agent/docs"
	"outreach-agent/internal/handlers"
	"outreach-agent/internal/models"
	"outreach-agent/internal/services"
	"outreach-agent/internal/utils"
	"outreach-agent/internal/wsnotify"
)

var cfgPath string

// @title Outreach Agent API
// @version 1.0
// @description Operator API and inbound webhooks of the WhatsApp outreach agent
// @host localhost:8081
// @BasePath /api/v1
func main() {
	root := &cobra.Command{
		Use:           "outreach-agent",
		Short:         "Automated WhatsApp outreach with warm-up throttling",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runAgent,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "YAML config file (optional)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and the operator API",
		Args:  cobra.NoArgs,
		RunE:  runAgent,
	})

	var verify bool
	importCmd := &cobra.Command{
		Use:   "import <file.csv|s3://bucket/key>",
		Short: "Import prospects from a CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], verify)
		},
	}
	importCmd.Flags().BoolVar(&verify, "verify", false, "skip numbers that are not on WhatsApp")
	root.AddCommand(importCmd)

	root.AddCommand(&cobra.Command{
		Use:   "state",
		Short: "Print the agent state and today's limit",
		Args:  cobra.NoArgs,
		RunE:  runState,
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		utils.LogError("%v", err)
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	gateway, whatsapp, err := a.gateway(ctx)
	if err != nil {
		return err
	}
	renderer, err := services.NewTemplateRenderer(services.DefaultFirstContactTemplates(), services.DefaultFollowUpTemplates())
	if err != nil {
		return err
	}
	orch, err := services.NewOrchestrator(services.OutreachDeps{
		Prospects: a.prospects,
		Messages:  a.messages,
		State:     a.state,
		Throttle:  a.throttle,
		Checker:   a.checker(),
		Gateway:   gateway,
		Renderer:  renderer,
		Hooks:     a.hooks(ctx),
	}, outreachConfig(a.cfg))
	if err != nil {
		return err
	}
	orch.AddHook(wsnotify.NewHook(wsnotify.Manager))

	deps := handlers.HandlerDeps{
		Operator:      orch,
		Control:       a.state,
		Throttle:      a.throttle,
		Prospects:     a.prospects,
		Messages:      a.messages,
		WebhookSecret: a.cfg.WebhookSecret,
	}
	if whatsapp != nil {
		whatsapp.SetInboundHandler(func(ctx context.Context, phone, text string) {
			if _, err := orch.HandleInbound(ctx, phone, text); err != nil {
				utils.LogError("Erro ao processar mensagem recebida de %s: %v", phone, err)
			}
		})
		deps.QRCode = whatsapp
	}

	router := mux.NewRouter().PathPrefix("/api/v1").Subrouter()
	handlers.NewHTTPHandler(deps).RegisterRoutes(router)
	router.HandleFunc("/ws", handlers.WebSocketHandler(wsnotify.Manager))
	router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/api/v1/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
	))

	mainRouter := mux.NewRouter()
	mainRouter.PathPrefix("/api/v1").Handler(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Secret"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	server := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           c.Handler(mainRouter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		utils.LogInfo("Servidor rodando em %s (Swagger UI em /api/v1/swagger/index.html)", a.cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	scheduler := services.NewScheduler(orch, a.state, services.SchedulerConfig{
		HeartbeatInterval: a.cfg.HeartbeatInterval(),
		CycleInterval:     a.cfg.CycleInterval(),
		ErrorBackoff:      a.cfg.ErrorBackoff(),
	})
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	select {
	case <-ctx.Done():
	case err = <-serverErr:
		utils.LogError("Erro no servidor HTTP: %v", err)
		stop()
	}
	utils.LogInfo("Encerrando...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.LogWarning("Erro ao encerrar servidor HTTP: %v", err)
	}
	<-schedulerDone
	utils.LogInfo("Agente encerrado")
	return err
}

func runImport(cmd *cobra.Command, source string, verify bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	var gateway models.MessagingGateway
	if verify {
		if gateway, _, err = a.gateway(ctx); err != nil {
			return err
		}
	}

	importer := services.NewImporter(a.prospects, gateway, a.objects())
	stats, err := importer.Import(ctx, source, services.ImportOptions{Verify: verify})
	if err != nil {
		return err
	}
	return printJSON(cmd, stats)
}

func runState(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	state, limit, err := a.throttle.Status(cmd.Context(), time.Now())
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]interface{}{
		"state":          state,
		"daily_limit":    limit,
		"within_window":  a.window.IsWithinWorkWindow(time.Now()),
		"gateway":        a.cfg.Gateway,
		"timezone":       a.cfg.Timezone,
		"cycle_interval": a.cfg.CycleInterval().String(),
	})
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

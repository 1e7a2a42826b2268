package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/entrhq/claimbridge/pkg/browser"
	"github.com/entrhq/claimbridge/pkg/config"
	"github.com/entrhq/claimbridge/pkg/logging"
	"github.com/entrhq/claimbridge/pkg/messaging"
	"github.com/entrhq/claimbridge/pkg/orchestrator"
	"github.com/entrhq/claimbridge/pkg/router"
	"github.com/entrhq/claimbridge/pkg/submission"
	"github.com/entrhq/claimbridge/pkg/tab"
)

// background is the router listening on a runtime.
type background struct {
	rt     *messaging.Runtime
	router *router.Router
	stop   func()
}

func startBackground(logger *logging.Logger) (*background, error) {
	rt := messaging.NewRuntime(logger.Named("runtime"))

	routerSection := config.GetRouter()
	saveSection := config.GetSave()
	fetchTimeout, fetchMax := routerSection.FetchLimits()

	r := router.New(
		router.NewPayloadStore(),
		rt,
		submission.NewServiceFromConfig(saveSection, logger.Named("submission")),
		router.NewFetcher(fetchTimeout, fetchMax),
		router.OptionsFromConfig(routerSection, saveSection),
		logger.Named("router"),
	)

	stop, err := rt.ListenBackground(r)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("listen on background: %w", err)
	}
	return &background{rt: rt, router: r, stop: stop}, nil
}

func (b *background) Close() {
	b.stop()
	b.router.Close()
}

// storePayload hands a payload to the background as the frontend would.
func (b *background) storePayload(ctx context.Context, payload json.RawMessage) error {
	resp, err := b.rt.SendMessage(ctx, messaging.Sender{URL: "cli"}, messaging.Message{
		Action:  messaging.ActionStorePayload,
		Payload: payload,
		Source:  messaging.SourceFrontend,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("store payload: %s", resp.Error)
	}
	return nil
}

// loadScript returns the configured flow, falling back to the built-in one.
func loadScript(settings config.PortalSettings) (*orchestrator.Script, error) {
	script := orchestrator.DefaultScript()
	if settings.FlowFile != "" {
		loaded, err := orchestrator.LoadScript(settings.FlowFile)
		if err != nil {
			return nil, err
		}
		script = loaded
	}
	if settings.UploadFormat != "" {
		script.Documents.Format = settings.UploadFormat
	}
	return script, nil
}

// portal is a managed browser with one automated tab.
type portal struct {
	sessions *browser.SessionManager
	agent    *tab.Agent
}

func openPortal(ctx context.Context, bus tab.Bus, settings config.PortalSettings, logger *logging.Logger) (*portal, error) {
	if settings.StartURL == "" {
		return nil, errors.New("no portal start url configured")
	}
	script, err := loadScript(settings)
	if err != nil {
		return nil, err
	}

	sessions := browser.NewSessionManager(browser.Options{Headless: settings.Headless}, logger.Named("browser"))
	if err := sessions.Initialize(); err != nil {
		return nil, err
	}

	t, err := sessions.OpenTab(ctx, settings.StartURL)
	if err != nil {
		_ = sessions.Shutdown()
		return nil, err
	}

	agent := tab.New(t.ID, bus, t, tab.Options{
		Script:      script,
		MaxPasses:   settings.MaxPasses,
		AccessToken: config.GetSave().GetAccessToken(),
		Logger:      logger.Named("tab"),
	})
	if _, err := agent.Start(ctx); err != nil {
		agent.Close()
		_ = sessions.Shutdown()
		return nil, err
	}
	return &portal{sessions: sessions, agent: agent}, nil
}

func (p *portal) Close() error {
	p.agent.Close()
	return p.sessions.Shutdown()
}

// readPayload returns inline JSON, or the contents of file ("-" is stdin).
func readPayload(inline, file string) (json.RawMessage, error) {
	var data []byte
	switch {
	case inline != "" && file != "":
		return nil, errors.New("use either --payload or --payload-file, not both")
	case inline != "":
		data = []byte(inline)
	case file == "-":
		var err error
		if data, err = io.ReadAll(os.Stdin); err != nil {
			return nil, err
		}
	case file != "":
		var err error
		if data, err = os.ReadFile(file); err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}

	if !json.Valid(data) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

// Package app is the wiring layer between the CLI and the wiki service.
// It constructs all dependencies from config and manages their lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"wikid/internal/attachments"
	"wikid/internal/config"
	"wikid/internal/database"
	"wikid/internal/encryption"
	"wikid/internal/model"
	"wikid/internal/server"
	"wikid/internal/wiki"
)

// App owns a fully wired wiki service and its HTTP server.
// The caller must call Close when done.
type App struct {
	cfg     *config.Config
	store   wiki.Store
	service *wiki.Service
	server  *server.Server
	logFile *os.File
}

// NewApp creates a fully wired App from the given config.
func NewApp(cfg *config.Config) (*App, error) {
	logger, logFile, err := newLogger(filepath.Join(cfg.BaseDir, "log"), cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}

	if err := store.EnsureReservedRoles(context.Background()); err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("ensuring reserved roles: %w", err)
	}

	encryptor, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	blobs, err := attachments.NewStoreFromConfig(cfg.Attachments, encryptor)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating attachment store: %w", err)
	}

	anon := wiki.AnonymousAccess{
		Read:  cfg.Server.AnonymousRead,
		Write: cfg.Server.AnonymousWrite,
	}
	svc := wiki.NewService(store, blobs, &slogAdapter{l: logger}, &wiki.RealClock{}, &wiki.UUIDGenerator{}, anon, cfg.Attachments.SizeThreshold)

	srv := server.New(svc, &slogAdapter{l: logger}, cfg.Server.ListenAddr, server.Options{
		EnablePush:    cfg.Server.EnablePush,
		EnableMetrics: cfg.Server.EnableMetrics,
	})

	return &App{
		cfg:     cfg,
		store:   store,
		service: svc,
		server:  srv,
		logFile: logFile,
	}, nil
}

// Service exposes the wiki service for CLI operations.
func (a *App) Service() *wiki.Service { return a.service }

// Run serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// ActAs resolves a username into the acting user for admin operations.
func (a *App) ActAs(ctx context.Context, username string) (*model.User, error) {
	if username == "" {
		return nil, nil
	}
	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %q: %w", username, wiki.ErrNotFound)
	}
	return user, nil
}

// MintSession creates a bearer token for a user, for use with the HTTP API.
func (a *App) MintSession(ctx context.Context, username string) (*model.Session, error) {
	user, err := a.ActAs(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("username is required: %w", wiki.ErrValidation)
	}
	return a.store.CreateSession(ctx, user.ID)
}

// Close releases the database and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

package main

import (
    "log"
    "os"
    "os/signal"
    "syscall"

    "go.uber.org/zap"
)

// Entry point for the senseboard dashboard server.
func main() {
    zlog, err := zap.NewDevelopment()
    if err != nil {
        log.Fatalf("failed to build logger: %v", err)
    }
    defer zlog.Sync()
    sugar := zlog.Sugar()

    var cfgMgr ConfigManager
    if err := cfgMgr.Load(); err != nil {
        sugar.Fatalw("failed to load configuration", "err", err)
    }
    server, err := NewServer(&cfgMgr, sugar)
    if err != nil {
        sugar.Fatalw("initialisation error", "err", err)
    }

    // Blank the matrix and flush any recording on SIGINT/SIGTERM.
    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
    go func() {
        sig := <-sigCh
        sugar.Infow("shutdown signal received", "signal", sig.String())
        server.Shutdown()
        os.Exit(0)
    }()

    if err := server.Start(); err != nil {
        sugar.Fatalw("server exited", "err", err)
    }
}

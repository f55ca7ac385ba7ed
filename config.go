package main

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "sync"
)

// configPath is the default filename for persisted configuration.
const configPath = "config.json"

// ConfigManager wraps the loaded configuration and a mutex for concurrent
// access.  When modifying configuration through the HTTP API, always call
// Save() to persist changes.
type ConfigManager struct {
    mu     sync.RWMutex
    path   string
    cfg    Config
    loaded bool
}

// defaultConfig returns the configuration written on first run.  The server
// listens on plain HTTP by default; set cert_file/key_file to enable TLS.
func defaultConfig() Config {
    return Config{
        HTTPPort:         8080,
        SampleIntervalMS: 50,
        SeaLevelPressure: 1013.25,
        DataDir:          "data",
        LogFile:          "events.log",
        Users:            []User{},
        Alerts:           []AlertConfig{{Type: "log"}},
    }
}

// Load reads configuration from disk.  If the file does not exist, a default
// configuration is created and persisted to disk.  Missing numeric fields in
// an existing file are backfilled with defaults so that old config files
// keep working.
func (cm *ConfigManager) Load() error {
    cm.mu.Lock()
    // If the config is already loaded in memory, release the lock and return.
    if cm.loaded {
        cm.mu.Unlock()
        return nil
    }
    if cm.path == "" {
        cm.path = configPath
    }
    data, err := os.ReadFile(cm.path)
    if err != nil {
        if os.IsNotExist(err) {
            cm.cfg = defaultConfig()
            cm.loaded = true
            // Release the write lock before saving to avoid deadlock: Save
            // acquires a read lock on the same mutex.
            cm.mu.Unlock()
            return cm.Save()
        }
        cm.mu.Unlock()
        return fmt.Errorf("unable to read config: %w", err)
    }
    if err := json.Unmarshal(data, &cm.cfg); err != nil {
        cm.mu.Unlock()
        return fmt.Errorf("invalid %s: %w", cm.path, err)
    }
    if cm.cfg.HTTPPort == 0 {
        cm.cfg.HTTPPort = 8080
    }
    if cm.cfg.SampleIntervalMS <= 0 {
        cm.cfg.SampleIntervalMS = 50
    }
    if cm.cfg.SeaLevelPressure <= 0 {
        cm.cfg.SeaLevelPressure = 1013.25
    }
    if cm.cfg.DataDir == "" {
        cm.cfg.DataDir = "data"
    }
    if cm.cfg.LogFile == "" {
        cm.cfg.LogFile = "events.log"
    }
    cm.loaded = true
    cm.mu.Unlock()
    return nil
}

// Save writes the configuration to disk.  Call this after any changes to
// configuration via the API.
func (cm *ConfigManager) Save() error {
    cm.mu.RLock()
    defer cm.mu.RUnlock()

    bytes, err := json.MarshalIndent(cm.cfg, "", "  ")
    if err != nil {
        return err
    }
    tmpPath := cm.path + ".tmp"
    if err := os.WriteFile(tmpPath, bytes, 0600); err != nil {
        return err
    }
    return os.Rename(tmpPath, cm.path)
}

// Get returns a copy of the current configuration.  Callers must treat the
// returned Config as immutable.
func (cm *ConfigManager) Get() Config {
    cm.mu.RLock()
    defer cm.mu.RUnlock()
    return cm.cfg
}

// Update applies a user supplied function to modify the configuration.  It
// holds the write lock, calls the supplied function with a pointer to the
// internal config, and then persists the change.  The updater must not
// capture the pointer beyond the scope of the function.
func (cm *ConfigManager) Update(fn func(*Config) error) error {
    cm.mu.Lock()
    if err := fn(&cm.cfg); err != nil {
        cm.mu.Unlock()
        return err
    }
    // Release the lock before saving to avoid deadlock: Save acquires a read
    // lock on the same mutex.
    cm.mu.Unlock()
    return cm.Save()
}

// AuthRequired reports whether any user accounts are configured.  With no
// accounts the dashboard runs open, which is the normal setup on a trusted
// home network.
func (cm *ConfigManager) AuthRequired() bool {
    cm.mu.RLock()
    defer cm.mu.RUnlock()
    return len(cm.cfg.Users) > 0
}

// FindUser returns a user and its index by username.  If not found, index
// will be -1.
func (cm *ConfigManager) FindUser(username string) (User, int) {
    cm.mu.RLock()
    defer cm.mu.RUnlock()
    for i, u := range cm.cfg.Users {
        if u.Username == username {
            return u, i
        }
    }
    return User{}, -1
}

// Authenticate checks whether the provided username and password are valid.
// It returns the user object if authentication succeeds.
func (cm *ConfigManager) Authenticate(username, password string) (User, error) {
    user, _ := cm.FindUser(username)
    if user.Username == "" {
        return User{}, errors.New("invalid credentials")
    }
    if err := checkPasswordHash(password, user.PasswordHash); err != nil {
        return User{}, errors.New("invalid credentials")
    }
    return user, nil
}

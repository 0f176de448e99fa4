package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"arena/internal/logger"
	"arena/internal/store"
	"arena/internal/store/model"
)

const rosterDebounce = 500 * time.Millisecond

// RosterEntry is one competitor definition from the accounts file.
type RosterEntry struct {
	ModelID        string  `mapstructure:"model_id"`
	Name           string  `mapstructure:"name"`
	InitialBalance float64 `mapstructure:"initial_balance"`
	Status         string  `mapstructure:"status"`
	SystemPrompt   string  `mapstructure:"system_prompt"`
	// SystemPromptFile is read when SystemPrompt is empty.
	SystemPromptFile string `mapstructure:"system_prompt_file"`
}

type Roster struct {
	Models []RosterEntry `mapstructure:"models"`
}

// LoadRoster reads the accounts file. An empty path yields an empty roster.
func LoadRoster(path string) (*Roster, error) {
	if strings.TrimSpace(path) == "" {
		return &Roster{}, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	var roster Roster
	if err := v.Unmarshal(&roster); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	return &roster, nil
}

// SeedAccounts creates missing accounts and applies status changes from the
// roster. Balances of existing accounts are never touched.
func SeedAccounts(ctx context.Context, st store.Store, roster *Roster) error {
	if roster == nil {
		return nil
	}
	for _, entry := range roster.Models {
		modelID := strings.TrimSpace(entry.ModelID)
		if modelID == "" {
			continue
		}
		status := model.AccountStatus(strings.TrimSpace(entry.Status))
		if status == "" {
			status = model.AccountActive
		}
		switch status {
		case model.AccountActive, model.AccountPaused, model.AccountStopped:
		default:
			logger.Warnf("App: roster entry %s has unknown status %q, skipping", modelID, entry.Status)
			continue
		}

		systemPrompt := entry.SystemPrompt
		if systemPrompt == "" && entry.SystemPromptFile != "" {
			raw, err := os.ReadFile(entry.SystemPromptFile)
			if err != nil {
				logger.Warnf("App: cannot read system prompt for %s: %v", modelID, err)
			} else {
				systemPrompt = string(raw)
			}
		}

		existing, err := st.Accounts().GetByModelID(ctx, modelID)
		if err != nil {
			return err
		}
		if existing == nil {
			balance := entry.InitialBalance
			if balance <= 0 {
				balance = 10000
			}
			name := entry.Name
			if name == "" {
				name = modelID
			}
			acct := &model.Account{
				ID:             uuid.NewString(),
				ModelID:        modelID,
				Name:           name,
				InitialBalance: balance,
				CurrentBalance: balance,
				Status:         status,
				SystemPrompt:   systemPrompt,
			}
			if err := st.Accounts().Create(ctx, acct); err != nil {
				return err
			}
			logger.Infof("App: seeded account model=%s balance=%.2f status=%s", modelID, balance, status)
			continue
		}
		if existing.Status != status {
			if err := st.Accounts().UpdateStatus(ctx, existing.ID, status); err != nil {
				return err
			}
			logger.Infof("App: account model=%s status %s -> %s", modelID, existing.Status, status)
		}
		if systemPrompt != "" && systemPrompt != existing.SystemPrompt {
			existing.SystemPrompt = systemPrompt
			if err := st.Accounts().Save(ctx, existing); err != nil {
				return err
			}
		}
	}
	return nil
}

// WatchRoster hot-reloads the accounts file until ctx ends. Rapid editor
// write bursts are debounced.
func WatchRoster(ctx context.Context, path string, st store.Store) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		logger.Warnf("App: roster watch disabled, cannot read %s: %v", path, err)
		return
	}

	var mu sync.Mutex
	var pending *time.Timer
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(rosterDebounce, func() {
			if ctx.Err() != nil {
				return
			}
			roster, err := LoadRoster(path)
			if err != nil {
				logger.Errorf("App: roster reload failed: %v", err)
				return
			}
			if err := SeedAccounts(ctx, st, roster); err != nil {
				logger.Errorf("App: roster apply failed: %v", err)
				return
			}
			logger.Infof("App: roster reloaded from %s (%s)", path, e.Op)
		})
	})
	v.WatchConfig()
	logger.Infof("App: watching roster %s", path)
	<-ctx.Done()
}

package auth

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
)

//go:embed model.conf
var casbinModelContent string

// LoadModel parses the RBAC model from path, or the embedded model when path is empty.
func LoadModel(path string) (model.Model, error) {
	var (
		m   model.Model
		err error
	)
	if path == "" {
		m, err = model.NewModelFromString(casbinModelContent)
	} else {
		m, err = model.NewModelFromFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}
	return m, nil
}

// NewEnforcer builds a synced enforcer over adapter with auto-save on, so
// every management call is written through to the adapter before it returns.
// Policy is loaded once here.
func NewEnforcer(modelPath string, adapter persist.Adapter) (*casbin.SyncedEnforcer, error) {
	m, err := LoadModel(modelPath)
	if err != nil {
		return nil, err
	}

	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	enforcer.EnableAutoSave(true)

	return enforcer, nil
}

// Copyright (c) 2025 @AmarnathCJD

package tgflow

import "github.com/pkg/errors"

var (
	ErrDispatcherRunning    = errors.New("[Dispatcher] already running")
	ErrDispatcherNotRunning = errors.New("[Dispatcher] not running")
	ErrNilHandler           = errors.New("[Dispatcher] nil handler")
	ErrHandlerNotFound      = errors.New("[Dispatcher] handler not registered")
	ErrNoRegistry           = errors.New("[Dispatcher] session handlers require a session registry")
)

// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package logger

import (
	"go.uber.org/zap"
)

// NewZapLogFunc adapts a zap logger to the LogFunc facade so callers can
// back the library's logging with structured output.
func NewZapLogFunc(zl *zap.Logger) LogFunc {
	sugar := zl.Sugar()
	return func(level LogLevel, msg string, keyvals ...interface{}) {
		switch level {
		case DebugLevel:
			sugar.Debugw(msg, keyvals...)
		case InfoLevel:
			sugar.Infow(msg, keyvals...)
		case WarnLevel:
			sugar.Warnw(msg, keyvals...)
		default:
			sugar.Errorw(msg, keyvals...)
		}
	}
}

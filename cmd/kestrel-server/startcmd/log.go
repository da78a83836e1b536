/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"github.com/kestrelsoc/kestrel/internal/pkg/log"
)

const (
	logLevelFlagName      = "log-level"
	logLevelFlagShorthand = "l"
	logLevelFlagUsage     = "Sets logging levels for individual modules as well as the default level." +
		" The format of the string is as follows: module1=level1:module2=level2:defaultLevel." +
		" Supported levels are: ERROR, WARN, INFO, DEBUG." +
		" Example: inbox=DEBUG:delivery=WARN:INFO. Defaults to INFO if not set. " +
		commonEnvVarUsageText + logLevelEnvKey
	logLevelEnvKey = "KESTREL_LOG_LEVEL"
)

// setLogLevels sets the log levels for individual modules as well as the
// default level from a spec of the form "module1=level1:module2=level2:defaultLevel".
// An invalid spec is logged and otherwise ignored so that a bad option does not
// prevent the server from starting.
func setLogLevels(logSpec string) {
	if logSpec == "" {
		return
	}

	if err := log.SetSpec(logSpec); err != nil {
		logger.Warn("Ignoring invalid log spec", log.WithParameter(logSpec), log.WithError(err))
	}
}

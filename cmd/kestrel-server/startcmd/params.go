/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kestrelsoc/kestrel/internal/pkg/cmdutil"
)

const (
	commonEnvVarUsageText = "Alternatively, this can be set with the following environment variable: "

	hostURLFlagName      = "host-url"
	hostURLFlagShorthand = "u"
	hostURLFlagUsage     = "Host and port that the kestrel-server instance listens on. Format: HostName:Port. " +
		commonEnvVarUsageText + hostURLEnvKey
	hostURLEnvKey = "KESTREL_HOST_URL"

	externalEndpointFlagName      = "external-endpoint"
	externalEndpointFlagShorthand = "e"
	externalEndpointFlagUsage     = "External endpoint that remote servers use to reach this server." +
		" This endpoint is used to generate the IDs of actors, activities and objects and" +
		" must be resolvable by remote servers. Format: scheme://HostName[:Port]." +
		" Defaults to http://" + "<host-url>. " + commonEnvVarUsageText + externalEndpointEnvKey
	externalEndpointEnvKey = "KESTREL_EXTERNAL_ENDPOINT"

	tlsCertificateFlagName      = "tls-certificate"
	tlsCertificateFlagShorthand = "y"
	tlsCertificateFlagUsage     = "TLS certificate for the kestrel server. " +
		commonEnvVarUsageText + tlsCertificateEnvKey
	tlsCertificateEnvKey = "KESTREL_TLS_CERTIFICATE"

	tlsKeyFlagName      = "tls-key"
	tlsKeyFlagShorthand = "x"
	tlsKeyFlagUsage     = "TLS key for the kestrel server. " + commonEnvVarUsageText + tlsKeyEnvKey
	tlsKeyEnvKey        = "KESTREL_TLS_KEY"

	tlsSystemCertPoolFlagName  = "tls-systemcertpool"
	tlsSystemCertPoolFlagUsage = "Use the system certificate pool for outbound connections." +
		" Possible values [true] [false]. Defaults to false. " +
		commonEnvVarUsageText + tlsSystemCertPoolEnvKey
	tlsSystemCertPoolEnvKey = "KESTREL_TLS_SYSTEMCERTPOOL"

	tlsCACertsFlagName  = "tls-cacerts"
	tlsCACertsFlagUsage = "Comma-separated list of CA cert paths that are trusted for outbound" +
		" connections. " + commonEnvVarUsageText + tlsCACertsEnvKey
	tlsCACertsEnvKey = "KESTREL_TLS_CACERTS"

	databaseTypeFlagName      = "database-type"
	databaseTypeFlagShorthand = "t"
	databaseTypeFlagUsage     = "The type of database to use for the activity and delivery stores. " +
		"Supported options: mem, mongodb. " + commonEnvVarUsageText + databaseTypeEnvKey
	databaseTypeEnvKey = "KESTREL_DATABASE_TYPE"

	databaseURLFlagName      = "database-url"
	databaseURLFlagShorthand = "v"
	databaseURLFlagUsage     = "The URL of the database. Not needed if using memstore. " +
		commonEnvVarUsageText + databaseURLEnvKey
	databaseURLEnvKey = "KESTREL_DATABASE_URL"

	databaseNameFlagName  = "database-name"
	databaseNameFlagUsage = "The name of the MongoDB database. Defaults to " + defaultDatabaseName + ". " +
		commonEnvVarUsageText + databaseNameEnvKey
	databaseNameEnvKey = "KESTREL_DATABASE_NAME"

	mqURLFlagName      = "mq-url"
	mqURLFlagShorthand = "q"
	mqURLFlagUsage     = "The URL of the AMQP message broker. If not specified then an in-memory" +
		" publisher/subscriber is used. " + commonEnvVarUsageText + mqURLEnvKey
	mqURLEnvKey = "KESTREL_MQ_URL"

	tracingProviderFlagName  = "tracing-provider"
	tracingProviderFlagUsage = "The tracing provider. Supported options: JAEGER. Tracing is disabled" +
		" if not specified. " + commonEnvVarUsageText + tracingProviderEnvKey
	tracingProviderEnvKey = "KESTREL_TRACING_PROVIDER"

	tracingCollectorURLFlagName  = "tracing-collector-url"
	tracingCollectorURLFlagUsage = "The URL of the collector to which traces are exported. " +
		commonEnvVarUsageText + tracingCollectorURLEnvKey
	tracingCollectorURLEnvKey = "KESTREL_TRACING_COLLECTOR_URL"

	pageSizeFlagName  = "page-size"
	pageSizeFlagUsage = "The maximum number of items per collection page. " +
		commonEnvVarUsageText + pageSizeEnvKey
	pageSizeEnvKey = "KESTREL_PAGE_SIZE"

	deliveryWorkersFlagName  = "delivery-workers"
	deliveryWorkersFlagUsage = "The number of concurrent workers that deliver activities to remote inboxes. " +
		commonEnvVarUsageText + deliveryWorkersEnvKey
	deliveryWorkersEnvKey = "KESTREL_DELIVERY_WORKERS"

	deliveryMaxRetriesFlagName  = "delivery-max-retries"
	deliveryMaxRetriesFlagUsage = "The maximum number of times a failed delivery is retried before it" +
		" is marked dead. " + commonEnvVarUsageText + deliveryMaxRetriesEnvKey
	deliveryMaxRetriesEnvKey = "KESTREL_DELIVERY_MAX_RETRIES"

	databaseTypeMemOption     = "mem"
	databaseTypeMongoDBOption = "mongodb"

	defaultDatabaseName       = "kestrel"
	defaultDeliveryMaxRetries = 5
)

type kestrelParameters struct {
	hostURL             string
	externalEndpoint    *url.URL
	tlsCertificate      string
	tlsKey              string
	tlsSystemCertPool   bool
	tlsCACerts          []string
	databaseType        string
	databaseURL         string
	databaseName        string
	mqURL               string
	logLevel            string
	tracingProvider     string
	tracingCollectorURL string
	pageSize            int
	deliveryWorkers     int
	deliveryMaxRetries  int
}

//nolint:funlen
func getKestrelParameters(cmd *cobra.Command) (*kestrelParameters, error) {
	hostURL, err := cmdutil.GetUserSetVarFromString(cmd, hostURLFlagName, hostURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	externalEndpoint := cmdutil.GetUserSetOptionalVarFromString(cmd, externalEndpointFlagName,
		externalEndpointEnvKey)

	if externalEndpoint == "" {
		externalEndpoint = "http://" + hostURL
	}

	externalEndpointURL, err := url.Parse(externalEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse external endpoint [%s]: %w", externalEndpoint, err)
	}

	tlsCertificate := cmdutil.GetUserSetOptionalVarFromString(cmd, tlsCertificateFlagName,
		tlsCertificateEnvKey)

	tlsKey := cmdutil.GetUserSetOptionalVarFromString(cmd, tlsKeyFlagName, tlsKeyEnvKey)

	tlsSystemCertPool, tlsCACerts, err := getTLS(cmd)
	if err != nil {
		return nil, err
	}

	databaseType, err := cmdutil.GetUserSetVarFromString(cmd, databaseTypeFlagName, databaseTypeEnvKey, false)
	if err != nil {
		return nil, err
	}

	if databaseType != databaseTypeMemOption && databaseType != databaseTypeMongoDBOption {
		return nil, fmt.Errorf("%s is not a valid database type. Run start --help for the usage",
			databaseType)
	}

	databaseURL, err := cmdutil.GetUserSetVarFromString(cmd, databaseURLFlagName, databaseURLEnvKey,
		databaseType != databaseTypeMongoDBOption)
	if err != nil {
		return nil, err
	}

	databaseName := cmdutil.GetUserSetOptionalVarFromString(cmd, databaseNameFlagName, databaseNameEnvKey)

	if databaseName == "" {
		databaseName = defaultDatabaseName
	}

	mqURL := cmdutil.GetUserSetOptionalVarFromString(cmd, mqURLFlagName, mqURLEnvKey)

	logLevel := cmdutil.GetUserSetOptionalVarFromString(cmd, logLevelFlagName, logLevelEnvKey)

	tracingProvider := cmdutil.GetUserSetOptionalVarFromString(cmd, tracingProviderFlagName,
		tracingProviderEnvKey)

	tracingCollectorURL := cmdutil.GetUserSetOptionalVarFromString(cmd, tracingCollectorURLFlagName,
		tracingCollectorURLEnvKey)

	pageSize, err := cmdutil.GetInt(cmd, pageSizeFlagName, pageSizeEnvKey, 0)
	if err != nil {
		return nil, err
	}

	deliveryWorkers, err := cmdutil.GetInt(cmd, deliveryWorkersFlagName, deliveryWorkersEnvKey, 0)
	if err != nil {
		return nil, err
	}

	deliveryMaxRetries, err := cmdutil.GetInt(cmd, deliveryMaxRetriesFlagName, deliveryMaxRetriesEnvKey,
		defaultDeliveryMaxRetries)
	if err != nil {
		return nil, err
	}

	return &kestrelParameters{
		hostURL:             hostURL,
		externalEndpoint:    externalEndpointURL,
		tlsCertificate:      tlsCertificate,
		tlsKey:              tlsKey,
		tlsSystemCertPool:   tlsSystemCertPool,
		tlsCACerts:          tlsCACerts,
		databaseType:        databaseType,
		databaseURL:         databaseURL,
		databaseName:        databaseName,
		mqURL:               mqURL,
		logLevel:            logLevel,
		tracingProvider:     tracingProvider,
		tracingCollectorURL: tracingCollectorURL,
		pageSize:            pageSize,
		deliveryWorkers:     deliveryWorkers,
		deliveryMaxRetries:  deliveryMaxRetries,
	}, nil
}

func getTLS(cmd *cobra.Command) (bool, []string, error) {
	tlsSystemCertPoolString := cmdutil.GetUserSetOptionalVarFromString(cmd, tlsSystemCertPoolFlagName,
		tlsSystemCertPoolEnvKey)

	tlsSystemCertPool := false

	if tlsSystemCertPoolString != "" {
		var err error

		tlsSystemCertPool, err = strconv.ParseBool(tlsSystemCertPoolString)
		if err != nil {
			return false, nil, fmt.Errorf("invalid value for %s [%s]: %w", tlsSystemCertPoolFlagName,
				tlsSystemCertPoolString, err)
		}
	}

	return tlsSystemCertPool, cmdutil.GetUserSetOptionalVarFromArrayString(cmd, tlsCACertsFlagName,
		tlsCACertsEnvKey), nil
}

func createFlags(startCmd *cobra.Command) {
	startCmd.Flags().StringP(hostURLFlagName, hostURLFlagShorthand, "", hostURLFlagUsage)
	startCmd.Flags().StringP(externalEndpointFlagName, externalEndpointFlagShorthand, "", externalEndpointFlagUsage)
	startCmd.Flags().StringP(tlsCertificateFlagName, tlsCertificateFlagShorthand, "", tlsCertificateFlagUsage)
	startCmd.Flags().StringP(tlsKeyFlagName, tlsKeyFlagShorthand, "", tlsKeyFlagUsage)
	startCmd.Flags().StringP(tlsSystemCertPoolFlagName, "", "", tlsSystemCertPoolFlagUsage)
	startCmd.Flags().StringArrayP(tlsCACertsFlagName, "", []string{}, tlsCACertsFlagUsage)
	startCmd.Flags().StringP(databaseTypeFlagName, databaseTypeFlagShorthand, "", databaseTypeFlagUsage)
	startCmd.Flags().StringP(databaseURLFlagName, databaseURLFlagShorthand, "", databaseURLFlagUsage)
	startCmd.Flags().StringP(databaseNameFlagName, "", "", databaseNameFlagUsage)
	startCmd.Flags().StringP(mqURLFlagName, mqURLFlagShorthand, "", mqURLFlagUsage)
	startCmd.Flags().StringP(logLevelFlagName, logLevelFlagShorthand, "", logLevelFlagUsage)
	startCmd.Flags().StringP(tracingProviderFlagName, "", "", tracingProviderFlagUsage)
	startCmd.Flags().StringP(tracingCollectorURLFlagName, "", "", tracingCollectorURLFlagUsage)
	startCmd.Flags().StringP(pageSizeFlagName, "", "", pageSizeFlagUsage)
	startCmd.Flags().StringP(deliveryWorkersFlagName, "", "", deliveryWorkersFlagUsage)
	startCmd.Flags().StringP(deliveryMaxRetriesFlagName, "", "", deliveryMaxRetriesFlagUsage)
}

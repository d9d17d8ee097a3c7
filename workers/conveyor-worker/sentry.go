package main

import (
	"log"
	"runtime"

	raven "github.com/getsentry/raven-go"
)

func ReportCrashToSentry(r interface{}) {
	if config.SentryDSN == "" {
		log.Println("No sentry DSN configured, not reporting to sentry")
		return
	}
	client, err := raven.New(config.SentryDSN)
	if err != nil {
		log.Printf("Could not create raven client for reporting to sentry: %v", err)
		return
	}
	_, _ = client.CapturePanicAndWait(
		func() {
			panic(r)
		},
		map[string]string{
			"GOARCH":    runtime.GOARCH,
			"GOOS":      runtime.GOOS,
			"version":   version,
			"clientId":  config.ClientID,
			"masterUrl": config.BaseURL(),
		},
	)
}

// Package cvdispatchevents provides binding types for the events a conveyor
// master publishes about a dispatch session.
//
// This package is designed to sit on top of
// https://pkg.go.dev/github.com/taskcluster/pulse-go/pulse. Please read the
// pulse package overview to get an understanding of how the pulse client is
// implemented in go.
//
// In addition to the basic pulse package this package provides structured
// types for unmarshaling message bodies into, and Binding types that define
// the fixed exchange names and routing keys as structured types.
//
// For example, rather than using:
//
//	pulse.Bind(
//		"primary.#",
//		"exchange/conveyor/v1/test-finished",
//	)
//
// you can use:
//
//	cvdispatchevents.TestFinished{}
//
// and your callback will receive a *cvdispatchevents.TestFinishedMessage
// rather than just an interface{}.
package cvdispatchevents

import (
	"reflect"
	"strings"
)

// WorkerConnected binds to the exchange that announces a worker opening a
// session with the master.
type WorkerConnected struct {
	RoutingKeyKind string `mwords:"primary"`
	SessionID      string `mwords:"*"`
	ClientID       string `mwords:"*"`
	Reserved       string `mwords:"#"`
}

func (binding WorkerConnected) RoutingKey() string {
	return generateRoutingKey(&binding)
}

func (binding WorkerConnected) ExchangeName() string {
	return "exchange/conveyor/v1/worker-connected"
}

func (binding WorkerConnected) NewPayloadObject() interface{} {
	return new(WorkerConnectedMessage)
}

// WorkerExpired binds to the exchange that announces a worker dropped from
// the session after missing keep-alives past the liveness timeout. Any test
// the worker had in flight has been requeued.
type WorkerExpired struct {
	RoutingKeyKind string `mwords:"primary"`
	SessionID      string `mwords:"*"`
	ClientID       string `mwords:"*"`
	Reserved       string `mwords:"#"`
}

func (binding WorkerExpired) RoutingKey() string {
	return generateRoutingKey(&binding)
}

func (binding WorkerExpired) ExchangeName() string {
	return "exchange/conveyor/v1/worker-expired"
}

func (binding WorkerExpired) NewPayloadObject() interface{} {
	return new(WorkerExpiredMessage)
}

// TestFinished binds to the exchange that carries one message per recorded
// test result.
type TestFinished struct {
	RoutingKeyKind string `mwords:"primary"`
	SessionID      string `mwords:"*"`
	ClientID       string `mwords:"*"`
	Reserved       string `mwords:"#"`
}

func (binding TestFinished) RoutingKey() string {
	return generateRoutingKey(&binding)
}

func (binding TestFinished) ExchangeName() string {
	return "exchange/conveyor/v1/test-finished"
}

func (binding TestFinished) NewPayloadObject() interface{} {
	return new(TestFinishedMessage)
}

// RunFinished binds to the exchange that announces the session recorded a
// result for every test in the plan.
type RunFinished struct {
	RoutingKeyKind string `mwords:"primary"`
	SessionID      string `mwords:"*"`
	Reserved       string `mwords:"#"`
}

func (binding RunFinished) RoutingKey() string {
	return generateRoutingKey(&binding)
}

func (binding RunFinished) ExchangeName() string {
	return "exchange/conveyor/v1/run-finished"
}

func (binding RunFinished) NewPayloadObject() interface{} {
	return new(RunFinishedMessage)
}

func generateRoutingKey(x interface{}) string {
	val := reflect.ValueOf(x).Elem()
	p := make([]string, 0, val.NumField())
	for i := 0; i < val.NumField(); i++ {
		valueField := val.Field(i)
		typeField := val.Type().Field(i)
		tag := typeField.Tag
		if t := tag.Get("mwords"); t != "" {
			if v := valueField.Interface(); v == "" {
				p = append(p, t)
			} else {
				p = append(p, v.(string))
			}
		}
	}
	return strings.Join(p, ".")
}

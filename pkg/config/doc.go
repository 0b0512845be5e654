// Package config loads engine settings and parses stack templates.
//
// # Settings
//
// Settings are resolved in layers, later layers winning:
//
//  1. Built-in defaults (Default)
//  2. A YAML file, usually passed with --config
//  3. A dotenv file, ".env" by default
//  4. STACKFORGE_* environment variables
//
// The result is checked with validator struct tags plus the cross-field
// rules of the lock backends.
//
//	settings, err := config.Load("stackforge.yaml", "")
//	if err != nil {
//	    return err
//	}
//
// Example file:
//
//	engine_id: engine-a
//	database_path: /var/lib/stackforge/stackforge.db
//	lock:
//	  backend: redis
//	  redis:
//	    addr: redis:6379
//	nats:
//	  url: nats://nats:4222
//	  probe_timeout: 5s
//	stack:
//	  timeout: 30m
//	  poll_interval: 1s
//	telemetry:
//	  logging:
//	    level: debug
//	    format: json
//
// # Templates
//
// ParseTemplate accepts JSON and YAML documents with the sections
// Description, Parameters, Mappings, Resources and Outputs. Lower-case
// section and resource keys (resources, type, properties, depends_on, ...)
// are accepted as aliases. Format version keys are ignored.
//
//	Resources:
//	  Suffix:
//	    Type: Stackforge::RandomString
//	    Properties:
//	      Length: 8
//	  Ready:
//	    Type: Stackforge::Wait
//	    DependsOn: Suffix
//	    Properties:
//	      Duration: 2s
//	Outputs:
//	  Name:
//	    Value: {"Fn::Join": ["-", ["app", {"Ref": "Suffix"}]]}
package config

package config

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# statusrelay configuration

# Status ingest listener
# Producers POST status events to http://<host>:<port>/status
listener:
  host: 0.0.0.0
  port: 5679
  fallback_ports: [5680, 5681, 5682, 5683]  # Tried in order when port is taken
  stop_timeout: 2s            # Graceful shutdown bound before force-close
  max_body_bytes: 1048576     # Larger bodies are rejected as invalid_payload
  dedupe_ttl: 5m              # Remember event ids this long (0 disables)
  health_interval: 30s        # Self-heal check interval for 'statusrelay serve'
  # cors_origins:             # Allowed browser origins (default: any)
  #   - http://localhost:3000

# Shared event queue
queue:
  max_size: 1000              # 0 = unbounded; a full queue answers 503 queue_full

# Per-session consumer loop
consumer:
  poll_interval: 100ms

# Chat workflow webhook
backend:
  webhook_url: http://localhost:5678/webhook/macAssistant
  timeout: 60s
  provider: openai            # openai or anthropic
  model: gpt-4
  temperature: 0.7
  max_tokens: 2048

# Terminal rendering
ui:
  markdown_style: dark        # dark, light, or notty
  width: 100
  toast_duration: 3s
  no_color: false

# Transcript persistence
store:
  enabled: false
  # path: ~/.config/statusrelay/transcripts.db

# Debug log level: debug, info, warn, error
log:
  level: info

# Distributed tracing
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # none, file, stdout, otlp, otlp-http (default: file)
#   file_path: ~/.config/statusrelay/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # 4317 for otlp (grpc), 4318 for otlp-http
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
#
# Example: Send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1
`
}

package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "meter":
		return meterTemplate, nil
	case "bridge":
		return bridgeTemplate, nil
	case "substation":
		return substationTemplate, nil
	case "mapping":
		return mappingTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const meterTemplate = `# pvgate meter gateway: serves the sensor feed to the field controller
# over plaintext and TLS at once.
listen_addr = ":502"
tls_listen_addr = ":802"
tls_cert_file = "certs/server.crt"
tls_key_file = "certs/server.key"
block_size = 100
watched_start = 0
watched_count = 8
stats_interval = "60s"
metrics_addr = ""
`

const bridgeTemplate = `# pvgate bridge gateway: wireless sensor ingress over TLS, buffered
# store-and-forward toward the field controller.
tls_listen_addr = ":802"
tls_cert_file = "certs/server.crt"
tls_key_file = "certs/server.key"
block_size = 100
watched_start = 0
watched_count = 5
buffer_capacity = 100
forward_addr = "192.168.1.50:502"
unit_id = 1
forward_interval = "5s"
connect_timeout = "10s"
failure_threshold = 3
stats_interval = "60s"
metrics_addr = ""
`

const substationTemplate = `# pvgate substation gateway: field controller ingress, translated onto
# the protection relay's named data objects.
listen_addr = ":502"
block_size = 100
watched_start = 0
watched_count = 5
translate_interval = "1s"
relay_addr = "192.168.1.21:102"
relay_binding = "mms"
logical_device = "LD0"
connect_timeout = "10s"
request_timeout = "5s"
health_object = "LLN0$DC$NamPlt$vendor"
mapping_file = ""
stats_interval = "60s"
metrics_addr = ""
`

const mappingTemplate = `# pvgate translation mapping: decoded feed fields onto relay objects.
mappings:
  - field: P_ac
    path: MMXU1$MX$TotW$mag$f
    type: float
  - field: V_dc
    path: MMXU1$MX$PhV$phsA$cVal$mag$f
    type: float
  - field: I_dc
    path: MMXU1$MX$A$phsA$cVal$mag$f
    type: float

bounds:
  P_ac: {min: 0, max: 10000}
  V_dc: {min: 0, max: 100}
  I_dc: {min: 0, max: 50}
  G: {min: 0, max: 1500}
`

package config

import (
	"fmt"
	"os"
)

const template = `# satpctl configuration
banner = "Test add-on v3.14"
log_level = "info"

# Extra bindings. The SATP rule (udp 4444 -> 4444) is always registered.
# [[bindings]]
# transport = "udp"
# layer = "SATP"
# sport = 5000
# dport = 5000

[capture]
snaplen = 65535
`

func Template() string {
	return template
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

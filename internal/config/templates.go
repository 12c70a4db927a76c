package config

import (
	"fmt"
	"os"
)

// Template returns a commented starting config for one rank of a two-rank
// mesh.
func Template() string {
	return rankTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(rankTemplate), 0o600)
}

const rankTemplate = `# Set local = N to run N ranks in this process instead of a mesh.
[cluster]
rank = 0
peers = ["127.0.0.1:7400", "127.0.0.1:7401"]
token = "change-me"
local = 0
connect_timeout = "5s"
write_timeout = "30s"
max_connect_attempts = 20
backoff_initial = "100ms"
backoff_max = "2s"
security_mode = "development"

[cluster.tls]
enabled = false
mutual = false

[redistribute]
policy = "ceil"
depth_limiter = 0

[ghost]
enabled = false
layers = 1
build_if_required = true
generate_process_ids = true
generate_global_ids = true
use_static_mesh_cache = false

[admin]
listen = "127.0.0.1:7410"
cors_origins = ["http://localhost:3000"]

[demo]
dimension = 3
branch_factor = 2
cells = [2, 2, 2]
levels = 3
mask_every = 0
`

package config

// DefaultConfigTOML is a complete, commented sample cowfork.toml.
const DefaultConfigTOML = `# cowfork configuration file

[kernel]
# frames = 1024                 # physical page frames (4 KiB each)
# max_envs = 1024               # live environments, at most 1024
# console_bytes = 4096          # console ring buffer size
# console_file = ""             # also copy console output here (supports %(here)s, ${VAR})

[log]
# level = "info"                # debug, info, warn, error
# format = "json"               # json, text
# file = ""                     # log file path (default: stderr)

[run]
# program = "fork"              # built-in program, see "cowfork list"
# dump = false                  # print every address space as it exits
# timeout = 0                   # seconds before the run is cancelled, 0 for none

[metrics]
# enabled = false               # print Prometheus metrics after the run
`

// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func jsonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print output",
		},
	}
}

func bridgeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "bridge",
		Usage: "Bridge websocket URL (default: ws://<bridge.host>:<bridge.port>/ws)",
	}
}

func hostFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "host",
		Usage: "Device address, overriding [device] host",
	}
}

func taskIDFlag(required bool) cli.Flag {
	return &cli.Int64Flag{
		Name:     "task-id",
		Aliases:  []string{"t"},
		Usage:    "Device task id",
		Required: required,
	}
}

func nameArg() []cli.Argument {
	return []cli.Argument{&cli.StringArg{Name: "name"}}
}

// serveCommand runs the package server, the operator bridge and the orchestrator.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve packages to the device and accept operator commands",
		Flags: []cli.Flag{
			hostFlag(),
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Package server port, overriding [server] port",
			},
			&cli.IntFlag{
				Name:  "bridge-port",
				Usage: "Bridge port, overriding [bridge] port",
			},
			&cli.StringFlag{
				Name:  "advertise",
				Usage: "Address put into package URLs, overriding [server] advertise_host",
			},
		},
		Action: r.Serve,
	}
}

// setupCommand handles setup operations for the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write the example configuration to the --config path",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// tasksCommand drives the task table of a running server over the bridge.
func tasksCommand(r *Runner) *cli.Command {
	withBridge := func(flags ...cli.Flag) []cli.Flag {
		return append(append([]cli.Flag{bridgeFlag()}, jsonFlags()...), flags...)
	}

	return &cli.Command{
		Name:    "tasks",
		Aliases: []string{"t"},
		Usage:   "Manage transfer tasks on a running server",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List every task",
				Flags:   withBridge(),
				Action:  r.TasksList,
			},
			{
				Name:      "add",
				Usage:     "Register package files",
				ArgsUsage: "<path>...",
				Flags: withBridge(&cli.StringFlag{
					Name:    "name",
					Aliases: []string{"n"},
					Usage:   "Task name for a single package (default: file name)",
				}),
				Action: r.TasksAdd,
			},
			{
				Name:      "install",
				Usage:     "Start the device download for a task",
				Arguments: nameArg(),
				Flags: withBridge(taskIDFlag(false), &cli.StringFlag{
					Name:  "path",
					Usage: "Package path when the task is not registered yet",
				}),
				Action: r.TasksInstall,
			},
			{
				Name:      "info",
				Usage:     "Refresh a task from the device",
				Arguments: nameArg(),
				Flags:     withBridge(taskIDFlag(false)),
				Action:    r.TasksInfo,
			},
			{
				Name:      "stop",
				Usage:     "Pause a task on the device",
				Arguments: nameArg(),
				Flags:     withBridge(taskIDFlag(false)),
				Action:    r.TasksStop,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove a task from the table",
				Arguments: nameArg(),
				Flags:     withBridge(),
				Action:    r.TasksRemove,
			},
		},
	}
}

// settingsCommand re-targets a running server.
func settingsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Set the device address and package port of a running server",
		Flags: append([]cli.Flag{
			bridgeFlag(),
			&cli.StringFlag{
				Name:  "ip",
				Usage: "Device address",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Package server port (0 keeps the current one)",
			},
		}, jsonFlags()...),
		Action: r.Settings,
	}
}

// deviceCommand issues direct calls to the device API, bypassing the server.
func deviceCommand(r *Runner) *cli.Command {
	withHost := func(flags ...cli.Flag) []cli.Flag {
		return append(append([]cli.Flag{hostFlag()}, jsonFlags()...), flags...)
	}

	return &cli.Command{
		Name:  "device",
		Usage: "Direct calls to the console's remote package installer",
		Commands: []*cli.Command{
			{
				Name:  "call",
				Usage: "POST a JSON body to an API endpoint, e.g. /get_task_progress",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "endpoint"},
				},
				Flags: withHost(&cli.StringFlag{
					Name:    "data",
					Aliases: []string{"d"},
					Usage:   "JSON body to send",
				}),
				Action: r.DeviceCall,
			},
			{
				Name:   "status",
				Usage:  "Show transfer progress of a device task",
				Flags:  withHost(taskIDFlag(true)),
				Action: r.DeviceStatus,
			},
			{
				Name:   "stop",
				Usage:  "Pause a device task",
				Flags:  withHost(taskIDFlag(true)),
				Action: r.DeviceStop,
			},
			{
				Name:   "remove",
				Usage:  "Unregister a device task",
				Flags:  withHost(taskIDFlag(true)),
				Action: r.DeviceRemove,
			},
			{
				Name:  "find",
				Usage: "Find existing device tasks for a content id",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "content-id"},
				},
				Flags: withHost(&cli.IntFlag{
					Name:  "sub-type",
					Usage: "Only probe this sub type (6 game, 7 additional content, 8 patch, 9 license)",
				}),
				Action: r.DeviceFind,
			},
		},
	}
}

func inspectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Read the content id embedded in package files",
		ArgsUsage: "<path>...",
		Flags:     jsonFlags(),
		Action:    r.Inspect,
	}
}

func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List finished transfers",
		Flags: append(jsonFlags(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of transfers to show",
				Value: 50,
			},
			&cli.StringFlag{
				Name:  "content-id",
				Usage: "Only show transfers of this content id",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Export format: csv, markdown or text",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Export file path (default: stdout)",
			},
		),
		Action: r.History,
	}
}

func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Monitor and control tasks in an interactive terminal UI",
		Flags: []cli.Flag{
			bridgeFlag(),
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where to write logs while the UI is running",
				Value: "./tmp/pkgsend-watch.log",
			},
		},
		Action: r.Watch,
	}
}

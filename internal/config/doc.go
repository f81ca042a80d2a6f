// Package config provides configuration parsing for the drawing
// server.
//
// The configuration is stored in a TOML file, by convention
// drawpile-srv.toml. Every field has a working default, so the server
// runs with no file at all; command-line flags override whatever the
// file provides.
//
// # Configuration File Structure
//
//	[listen]
//	address = "0.0.0.0"
//	port = 27750
//	http = ":8080"
//
//	[limits]
//	sessions = 1
//	users = 10
//	subscriptions = 1
//	name-length = 8
//	min-dimension = 400
//
//	[session]
//	transient = false
//	unique-names = false
//	duplicate-connections = false
//	wide-strings = false
//
//	[timeouts]
//	idle = "3m"
//	time-limit = "3m"
//
// # Usage
//
//	cfg, err := config.Load("drawpile-srv.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Listening on", cfg.ListenAddr())
package config

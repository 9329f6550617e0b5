package core

// Version identifies the running build. Overridden at build time:
//
//	go build -ldflags "-X github.com/jaberry835/agentmesh/core.Version=v1.2.3"
var Version = "development"

// Copyright 2025 The mqbridge-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// package main is the entrypoint for the mqbridge-go application.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/mqbridge-go/pkg/auth"
	"github.com/turtacn/mqbridge-go/pkg/backend"
	"github.com/turtacn/mqbridge-go/pkg/backend/kafka"
	"github.com/turtacn/mqbridge-go/pkg/backend/memory"
	"github.com/turtacn/mqbridge-go/pkg/bridge"
	"github.com/turtacn/mqbridge-go/pkg/config"
	"github.com/turtacn/mqbridge-go/pkg/metrics"
	"github.com/turtacn/mqbridge-go/pkg/namespace"
	"github.com/turtacn/mqbridge-go/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "path to a .yaml or .json configuration file")
	flag.Parse()

	log.Println("Starting MQBridge-GO...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	nodeID := cfg.Broker.NodeID
	if nodeID == "" {
		nodeID, _ = os.Hostname()
	}
	log.Printf("Node ID: %s", nodeID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Authentication ---
	authChain := auth.NewChain()
	if err := cfg.ConfigureAuth(authChain); err != nil {
		log.Fatalf("Failed to configure authentication: %v", err)
	}

	// --- Topic namespace ---
	resolver, err := namespace.NewResolver(cfg.Broker.Namespace.Pattern)
	if err != nil {
		log.Fatalf("Invalid namespace pattern: %v", err)
	}

	// --- Messaging backend ---
	var client backend.Client
	switch cfg.Broker.Backend.Type {
	case "kafka":
		client, err = kafka.NewClient(kafka.Config{
			Brokers:     cfg.Broker.Backend.Kafka.Brokers,
			GroupPrefix: cfg.Broker.Backend.Kafka.GroupPrefix,
			Version:     cfg.Broker.Backend.Kafka.Version,
			ClientID:    cfg.Broker.Backend.Kafka.ClientID,
		})
		if err != nil {
			log.Fatalf("Failed to create Kafka backend: %v", err)
		}
		log.Printf("Using Kafka backend: %v", cfg.Broker.Backend.Kafka.Brokers)
	default:
		client = memory.NewBroker()
		log.Println("Using in-memory backend")
	}
	defer client.Close()

	// --- Bridge engine and MQTT listener ---
	registry := bridge.NewRegistry(client)
	engine := bridge.NewEngine(ctx, registry, authChain, resolver)
	srv := server.New(nodeID, engine)
	go func() {
		if err := srv.Serve(ctx, cfg.Broker.MQTTPort); err != nil {
			log.Fatalf("Bridge server failed: %v", err)
		}
	}()

	// --- Metrics ---
	if cfg.Broker.MetricsPort != "" {
		go metrics.Serve(cfg.Broker.MetricsPort)
	}

	// --- Wait for Shutdown Signal ---
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	<-shutdownChan

	log.Println("Shutdown signal received. Shutting down...")
}

// Command towersim is a local, synchronous driver for the tower-BFT
// consensus kernel. It owns leader selection, partition scheduling, and
// peer-vote dissemination; it contains no consensus logic of its own.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/towerbft/sim/config"
	"github.com/towerbft/sim/forkchoice"
	"github.com/towerbft/sim/node"
	"github.com/towerbft/sim/types"
)

func main() {
	scenarioPath := flag.String("scenario", "", "Path to a scenario yaml file (optional)")
	slots := flag.Uint64("slots", 100, "Number of slots to simulate (ignored when -scenario is given)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	level := slog.LevelInfo
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	scenario := &config.Scenario{Slots: *slots}
	if *scenarioPath != "" {
		loaded, err := config.LoadScenario(*scenarioPath)
		if err != nil {
			logger.Error("failed to load scenario", "error", err)
			os.Exit(1)
		}
		scenario = loaded
	}

	logger.Info("starting towersim",
		"validators", types.NumNodes,
		"slots", scenario.Slots,
		"partitions", len(scenario.Partitions),
	)

	banks := forkchoice.NewBanks(logger)
	nodes := make([]*node.Node, types.NumNodes)
	for i := range nodes {
		nodes[i] = node.New(types.ID(i), logger)
	}

	for slot := uint64(1); slot <= scenario.Slots; slot++ {
		disseminateSlot(nodes, scenario.Partitions, slot)

		leader := nodes[slot%types.NumNodes]
		peerVotes := make(map[types.ID][]types.Vote, len(nodes))
		for _, n := range nodes {
			peerVotes[n.ID] = n.Votes()
		}
		block := leader.MakeBlock(types.Slot(slot), peerVotes)

		if err := banks.Apply(block); err != nil {
			logger.Error("block application failed, halting", "slot", slot, "error", err)
			os.Exit(1)
		}

		for _, n := range nodes {
			n.Vote(banks)
		}

		if slot%10 == 0 {
			logger.Info("progress", "slot", slot, "lowest_root", banks.LowestRoot().Slot)
		}
	}

	root := banks.LowestRoot()
	fmt.Printf("simulation complete: %d slots, lowest root at slot %d\n", scenario.Slots, root.Slot)
}

// disseminateSlot marks slot visible for every validator not isolated
// by an active scenario partition window. A validator named in more
// than one overlapping window's Isolated list stays cut off from slot.
func disseminateSlot(nodes []*node.Node, windows []config.PartitionWindow, slot uint64) {
	isolated := make(map[uint64]bool)
	for _, w := range windows {
		if slot < w.Start || slot >= w.End {
			continue
		}
		for _, id := range w.Isolated {
			isolated[id] = true
		}
	}
	for _, n := range nodes {
		if isolated[uint64(n.ID)] {
			continue
		}
		n.SetActiveBlock(types.Slot(slot))
	}
}

package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"meetsfu/internal/core/domain"
	"meetsfu/pkg/utils"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func renderWorkers(w io.Writer, workers []domain.WorkerUsage) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "PID", "Routers", "Closed"})
	for _, wk := range workers {
		t.AppendRow(table.Row{wk.ID, wk.PID, wk.Routers, yesNo(wk.Closed)})
	}
	t.Render()
}

func renderCounts(w io.Writer, counts domain.RegistryCounts) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Kind", "Live"})
	total := 0
	for _, kind := range domain.HandleKinds {
		t.AppendRow(table.Row{kind, counts[kind]})
		total += counts[kind]
	}
	t.AppendFooter(table.Row{"Total", total})
	t.Render()
}

func renderRooms(w io.Writer, rooms []domain.RoomDump, now time.Time) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, "no open rooms")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Room", "Worker", "Peers", "Max", "Locked", "Host", "Age"})
	for _, r := range rooms {
		maxPeers := "-"
		if r.MaxPeers > 0 {
			maxPeers = strconv.Itoa(r.MaxPeers)
		}
		t.AppendRow(table.Row{r.ID, r.WorkerID, r.PeerCount, maxPeers, yesNo(r.Locked), r.HostUID, age(r.CreatedAt, now)})
	}
	t.Render()
}

func renderRoom(w io.Writer, r domain.RoomDump, now time.Time) {
	summary := newTable(w)
	summary.AppendRows([]table.Row{
		{"Room", r.ID},
		{"Router", r.RouterID},
		{"Worker", r.WorkerID},
		{"Locked", yesNo(r.Locked)},
		{"Host", r.HostUID},
		{"Age", age(r.CreatedAt, now)},
	})
	summary.Render()

	peers := newTable(w)
	peers.AppendHeader(table.Row{"Peer", "UID", "Name", "Role", "Hand", "Transports", "Producers", "Consumers"})
	for _, p := range r.Peers {
		peers.AppendRow(table.Row{p.ID, p.UserID, p.Name, p.Role, yesNo(p.HandRaised), len(p.Transports), len(p.Producers), len(p.Consumers)})
	}
	peers.Render()
}

func renderHandles(w io.Writer, kind domain.HandleKind, ids []string) {
	t := newTable(w)
	t.AppendHeader(table.Row{string(kind)})
	for _, id := range ids {
		t.AppendRow(table.Row{id})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d live", len(ids))})
	t.Render()
}

func renderStats(w io.Writer, stats map[string]interface{}) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Stat", "Value"})
	for _, k := range sortedKeys(stats) {
		t.AppendRow(table.Row{k, stats[k]})
	}
	t.Render()
}

func age(created, now time.Time) string {
	if created.IsZero() {
		return "-"
	}
	return utils.FormatDuration(now.Sub(created).Truncate(time.Second))
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"Ethernaut-Agent/sdk/go/solverclient"
)

func main() {
	// 用一个内置的假求解服务演示客户端的完整交互流程。
	var state = "working"
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/agent.json", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(solverclient.AgentCard{
			Name:    "ethernaut-solver",
			Version: "0.1.0",
		})
	})
	mux.HandleFunc("/a2a/v1", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     any            `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		var task solverclient.Task
		switch req.Method {
		case "message/send":
			task = solverclient.Task{ID: "task-demo", Status: solverclient.TaskStatus{State: "submitted"}}
		case "tasks/get":
			if state == "working" {
				state = "completed"
				task = solverclient.Task{ID: "task-demo", Status: solverclient.TaskStatus{State: "working"}}
			} else {
				task = solverclient.Task{ID: "task-demo", Status: solverclient.TaskStatus{State: "completed"}}
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": task})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := solverclient.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	card, err := client.FetchAgentCard(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("discovered agent %s v%s\n", card.Name, card.Version)

	task, err := client.SubmitChallenge(ctx, solverclient.Challenge{
		Goal:       "break the fallback challenge",
		Address:    "0x1111111111111111111111111111111111111111",
		MaxActions: 20,
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted task %s (state=%s)\n", task.ID, task.Status.State)

	done, err := client.WaitForCompletion(ctx, task.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task %s finished with state=%s\n", done.ID, done.Status.State)
}

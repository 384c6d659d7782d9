// cmd/client/main.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// Smoke-test client that exercises the auth and task endpoints against a
// running server.
func main() {
	baseURL := os.Getenv("SERVER_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	fmt.Println("Task service smoke test client")
	fmt.Println("Server:", baseURL)

	c := &client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}

	email := fmt.Sprintf("smoke-%d@example.com", time.Now().Unix())
	password := "SecurePass123!"

	// Register and capture the token plus tenant id.
	var session struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := c.do("POST", "/api/v1/auth/register", nil, map[string]string{
		"email":    email,
		"password": password,
	}, &session); err != nil {
		log.Fatalf("register failed: %v", err)
	}
	fmt.Println("registered:", email)
	c.token = session.Token
	tasksPath := "/api/v1/tenants/" + session.User.ID + "/tasks"

	// Create a task.
	var task struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	due := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	if err := c.do("POST", tasksPath, nil, map[string]any{
		"title":           "Buy groceries",
		"priority":        "high",
		"tags":            []string{"errands"},
		"due_date":        due,
		"reminder_offset": "2h",
	}, &task); err != nil {
		log.Fatalf("create task failed: %v", err)
	}
	fmt.Println("created task:", task.ID)

	// List it back.
	var list struct {
		Tasks []json.RawMessage `json:"tasks"`
		Total int               `json:"total"`
	}
	if err := c.do("GET", tasksPath+"?priority=high", nil, nil, &list); err != nil {
		log.Fatalf("list tasks failed: %v", err)
	}
	fmt.Printf("listed %d task(s)\n", list.Total)

	// Complete and delete.
	if err := c.do("PATCH", tasksPath+"/"+task.ID+"/complete", nil, nil, nil); err != nil {
		log.Fatalf("complete task failed: %v", err)
	}
	fmt.Println("completed task:", task.ID)

	if err := c.do("DELETE", tasksPath+"/"+task.ID, nil, nil, nil); err != nil {
		log.Fatalf("delete task failed: %v", err)
	}
	fmt.Println("deleted task:", task.ID)

	fmt.Println("all checks passed")
}

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *client) do(method, path string, headers map[string]string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, errBody.Detail)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

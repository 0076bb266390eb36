package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mapring/utils"
)

type client struct {
	BaseURL   string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func newClient() *client {
	return &client{
		BaseURL:   envOr("MAPRING_API_URL", "http://localhost:8080"),
		OutFormat: "text",
		HTTP:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	var m struct {
		PlatformID uint8  `json:"platform_id"`
		TypeID     int32  `json:"type_id"`
		ClassName  string `json:"class_name"`
	}
	if status/100 == 2 && json.Unmarshal(body, &m) == nil && m.ClassName != "" {
		fmt.Printf("%d:%d -> %s\n", m.PlatformID, m.TypeID, m.ClassName)
		return
	}
	if len(body) > 0 {
		fmt.Print(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func (c *client) check(status int, body []byte) error {
	c.print(status, body)
	if status/100 != 2 {
		return fmt.Errorf("request failed: status=%d", status)
	}
	return nil
}

func newRegisterCmd(cl *client) *cobra.Command {
	var (
		platform uint8
		typeID   string
		noWait   bool
	)
	cmd := &cobra.Command{
		Use:   "register CLASS_NAME",
		Short: "Register a class name cluster-wide",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"platform_id": platform, "class_name": args[0]}
			if typeID != "" {
				id, err := utils.ParseTypeID(typeID)
				if err != nil {
					return err
				}
				req["type_id"] = id
			}
			body, _ := json.Marshal(req)
			path := "/v1/mappings"
			if noWait {
				path += "?wait=false"
			}
			status, resp, err := cl.do(http.MethodPost, path, body)
			if err != nil {
				return err
			}
			return cl.check(status, resp)
		},
	}
	cmd.Flags().Uint8Var(&platform, "platform", 0, "platform id")
	cmd.Flags().StringVar(&typeID, "type-id", "", "explicit type id (derived from the class name when empty)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return as soon as the proposal is sent")
	return cmd
}

func newResolveCmd(cl *client) *cobra.Command {
	var await bool
	cmd := &cobra.Command{
		Use:   "resolve PLATFORM TYPE_ID",
		Short: "Look up the accepted class name for a type id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := utils.ParsePlatform(args[0])
			if err != nil {
				return err
			}
			typeID, err := utils.ParseTypeID(args[1])
			if err != nil {
				return err
			}
			path := "/v1/mappings/" + strconv.Itoa(int(platform)) + "/" + strconv.Itoa(int(typeID))
			if await {
				path += "/await"
			}
			status, resp, err := cl.do(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			return cl.check(status, resp)
		},
	}
	cmd.Flags().BoolVar(&await, "await", false, "block until the key is accepted")
	return cmd
}

func newListCmd(cl *client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the accepted mappings known to a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, resp, err := cl.do(http.MethodGet, "/v1/mappings", nil)
			if err != nil {
				return err
			}
			return cl.check(status, resp)
		},
	}
}

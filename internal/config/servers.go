package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// ServerDescriptor is one entry of the servers file. The list is parsed once
// at startup and never mutated.
type ServerDescriptor struct {
	ID         string `mapstructure:"-"`
	Name       string `mapstructure:"name"`
	Type       string `mapstructure:"type"`
	Host       string `mapstructure:"host"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	ExternalIP string `mapstructure:"external_ip"`
	Port       int    `mapstructure:"port"`
	Remark     string `mapstructure:"remark"`
	InboundID  int    `mapstructure:"inbound_id"`
	Capacity   int    `mapstructure:"capacity"`
}

// LoadServers reads the servers file, a JSON object keyed by server id:
//
//	{"germany_1": {"host": "https://panel:2053", "username": "...", "password": "...",
//	               "external_ip": "203.0.113.7", "port": 443, "remark": "DE"}}
//
// Missing capacity falls back to defaultCapacity, missing inbound id to 1.
func LoadServers(path string, defaultCapacity int) ([]ServerDescriptor, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read servers file %s: %w", path, err)
	}

	var raw map[string]ServerDescriptor
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("decode servers file %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("servers file %s lists no servers", path)
	}

	out := make([]ServerDescriptor, 0, len(raw))
	for id, d := range raw {
		d.ID = strings.ToLower(strings.TrimSpace(id))
		if d.Host == "" || d.ExternalIP == "" || d.Port == 0 {
			return nil, fmt.Errorf("server %s: host, external_ip and port are required", d.ID)
		}
		if d.Capacity <= 0 {
			d.Capacity = defaultCapacity
		}
		if d.InboundID <= 0 {
			d.InboundID = 1
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		if d.Type == "" {
			d.Type = "3x-ui"
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

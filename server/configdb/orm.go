package configdb

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cyclopcam/dbh"
	"github.com/vigilcam/vigil/server/defs"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Channel is the configuration of one video channel
type Channel struct {
	BaseModel
	Name        string             `json:"name"`                     // Friendly name
	Kind        defs.SourceKind    `json:"kind"`                     // Webcam, MobileIP, RTSP, File
	Host        string             `json:"host" gorm:"default:null"` // Hostname such as 192.168.1.33 (unused for File)
	Port        int                `json:"port" gorm:"default:null"` // If 0, then the kind's default port is used
	Username    string             `json:"username" gorm:"default:null"`
	Password    string             `json:"password" gorm:"default:null"`
	Path        string             `json:"path" gorm:"default:null"` // RTSP stream path, MJPEG URL path, or directory for File sources
	Mode        defs.DetectionMode `json:"mode"`
	Sensitivity defs.Sensitivity   `json:"sensitivity"`
	CreatedAt   dbh.IntTime        `json:"createdAt"`
	UpdatedAt   dbh.IntTime        `json:"updatedAt"`
}

// Validate returns an error describing why the configuration is invalid, or nil.
// Invalid configurations are rejected synchronously at add/update time.
func (c *Channel) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("Channel name may not be empty")
	}
	if _, err := defs.ParseSourceKind(string(c.Kind)); err != nil {
		return err
	}
	if _, err := defs.ParseDetectionMode(string(c.Mode)); err != nil {
		return err
	}
	if _, err := defs.ParseSensitivity(string(c.Sensitivity)); err != nil {
		return err
	}
	switch c.Kind {
	case defs.SourceFile:
		if c.Path == "" {
			return fmt.Errorf("File channels need a path")
		}
	default:
		if c.Host == "" {
			return fmt.Errorf("%v channels need a host", c.Kind)
		}
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("Invalid port %v", c.Port)
	}
	return nil
}

// SourceURL builds the connection URL for network sources.
// For File sources, it returns the configured path verbatim.
func (c *Channel) SourceURL() string {
	switch c.Kind {
	case defs.SourceRTSP:
		base := "rtsp://"
		if c.Username != "" {
			base += url.User(c.Username).String()
			if c.Password != "" {
				base = "rtsp://" + url.UserPassword(c.Username, c.Password).String()
			}
			base += "@"
		}
		port := c.Port
		if port == 0 {
			port = 554
		}
		path := c.Path
		if path == "" {
			path = "stream1"
		}
		return fmt.Sprintf("%v%v:%v/%v", base, c.Host, port, strings.TrimPrefix(path, "/"))
	case defs.SourceMobileIP, defs.SourceWebcam:
		// The IP Webcam phone apps (and our local webcam relay) serve MJPEG at /video
		port := c.Port
		if port == 0 {
			port = 8080
		}
		path := c.Path
		if path == "" {
			path = "/video"
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return fmt.Sprintf("http://%v:%v%v", c.Host, port, path)
	}
	return c.Path
}

// EqualsConnection returns true if the two configs connect to the same source
// in the same way. Changes that affect only analysis (mode, sensitivity, name)
// do not count, so the worker is not restarted for them.
func (c *Channel) EqualsConnection(b *Channel) bool {
	return c.Kind == b.Kind &&
		c.Host == b.Host &&
		c.Port == b.Port &&
		c.Username == b.Username &&
		c.Password == b.Password &&
		c.Path == b.Path
}

package agent

import (
	"context"
	"encoding/json"
	"os/exec"
)

// TailscaleInfo summarizes the local tailscaled state.
type TailscaleInfo struct {
	Installed bool
	Online    bool
	IP        string
}

// TailscaleStatus shells out to `tailscale status --json`. Any failure
// (not installed, daemon stopped, malformed output) degrades to the
// zero value rather than an error; callers only need to know whether
// the tailscale path is usable.
func TailscaleStatus(ctx context.Context) TailscaleInfo {
	var info TailscaleInfo

	path, err := exec.LookPath("tailscale")
	if err != nil {
		return info
	}
	info.Installed = true

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "status", "--json").Output()
	if err != nil {
		return info
	}

	var status struct {
		Self struct {
			Online       bool     `json:"Online"`
			TailscaleIPs []string `json:"TailscaleIPs"`
		} `json:"Self"`
	}
	if err := json.Unmarshal(out, &status); err != nil {
		return info
	}

	info.Online = status.Self.Online
	if len(status.Self.TailscaleIPs) > 0 {
		info.IP = status.Self.TailscaleIPs[0]
	}
	return info
}

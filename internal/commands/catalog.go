// Package commands describes the drone controller commands exposed by the
// gateway and what each one answers while the controller is offline.
package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"drone-command-gateway/internal/proxy"
)

// Call carries the caller-side inputs of one command invocation
type Call struct {
	Source  string
	Payload map[string]interface{}
	File    *proxy.Attachment
}

// Command is one controller endpoint with its log label and offline response
type Command struct {
	Name           string
	Method         string
	DefaultMessage string
	label          func(Call) string
	simulate       func(Call) map[string]interface{}
}

// Label returns the activity log label for call
func (c Command) Label(call Call) string {
	if c.label == nil {
		return "COMMAND_" + strings.ToUpper(c.Name)
	}
	return c.label(call)
}

// Simulated returns the body answered in place of the controller
func (c Command) Simulated(call Call) map[string]interface{} {
	if c.simulate == nil {
		return simulated(fmt.Sprintf("Command %s acknowledged (simulation mode)", c.Name))
	}
	return c.simulate(call)
}

func simulated(message string) map[string]interface{} {
	return map[string]interface{}{
		"status":     "simulation",
		"message":    message,
		"simulation": true,
	}
}

func fixed(label string) func(Call) string {
	return func(Call) string { return label }
}

func simpleCommand(name, label, defaultMessage, simulatedMessage string) Command {
	return Command{
		Name:           name,
		Method:         http.MethodPost,
		DefaultMessage: defaultMessage,
		label:          fixed(label),
		simulate:       func(Call) map[string]interface{} { return simulated(simulatedMessage) },
	}
}

// RestartInstructions is the offline answer of RestartRequired
var RestartInstructions = []string{
	"1. Ensure drone is landed and disarmed",
	"2. Power cycle the flight controller",
	"3. Restart the companion computer",
	"4. Reconnect to this gateway",
}

var (
	Status = Command{
		Name:           "status",
		Method:         http.MethodGet,
		DefaultMessage: "Status retrieved",
		label:          fixed("GET_STATUS"),
		simulate: func(Call) map[string]interface{} {
			body := simulated("Drone API not connected - showing simulated data")
			body["drone"] = map[string]interface{}{
				"connected": false,
				"mode":      "STANDBY",
				"armed":     false,
				"battery":   95,
				"gps_fix":   true,
			}
			return body
		},
	}

	ExecuteTemplateMission = Command{
		Name:           "execute_template_mission",
		Method:         http.MethodPost,
		DefaultMessage: "Mission executed",
		label: func(c Call) string {
			data, err := json.Marshal(c.Payload)
			if err != nil {
				return "EXECUTE_MISSION"
			}
			return "EXECUTE_MISSION: " + string(data)
		},
		simulate: func(c Call) map[string]interface{} {
			return simulated(fmt.Sprintf("Mission queued (simulation): Lat %s, Lon %s, Alt %sm",
				coordinate(c.Payload, "latitude"),
				coordinate(c.Payload, "longitude"),
				coordinate(c.Payload, "altitude"),
			))
		},
	}

	TakeoffAssist = simpleCommand("takeoff_assist", "TAKEOFF_ASSIST", "Takeoff assist executed", "Takeoff assist initiated (simulation mode)")
	SetHome       = simpleCommand("set_home", "SET_HOME", "Home set", "Home location set (simulation mode)")
	RTL           = simpleCommand("rtl", "RTL", "RTL executed", "RTL command sent (simulation mode)")
	Land          = simpleCommand("land", "LAND", "Land executed", "Land command sent (simulation mode)")
	Loiter        = simpleCommand("loiter", "LOITER", "Loiter executed", "Loiter command sent (simulation mode)")
	ClearMission  = simpleCommand("clear_mission", "CLEAR_MISSION", "Mission cleared", "Mission cleared (simulation mode)")

	ExecuteWaypointMission = Command{
		Name:           "execute_waypoint_mission",
		Method:         http.MethodPost,
		DefaultMessage: "Waypoint mission executed",
		label:          func(c Call) string { return "WAYPOINT_MISSION: " + filename(c) },
		simulate: func(c Call) map[string]interface{} {
			return simulated(fmt.Sprintf("Waypoint mission uploaded: %s (simulation mode)", filename(c)))
		},
	}

	ValidateWaypointFile = Command{
		Name:           "validate_waypoint_file",
		Method:         http.MethodPost,
		DefaultMessage: "File validated",
		label:          func(c Call) string { return "VALIDATE_WAYPOINT: " + filename(c) },
		simulate: func(c Call) map[string]interface{} {
			body := simulated(fmt.Sprintf("File validated: %s (simulation mode)", filename(c)))
			body["status"] = "success"
			body["valid"] = true
			return body
		},
	}

	RestartRequired = Command{
		Name:           "restart_required",
		Method:         http.MethodGet,
		DefaultMessage: "Restart info retrieved",
		label:          fixed("RESTART_INFO"),
		simulate: func(Call) map[string]interface{} {
			body := simulated("System restart information (simulation mode)")
			instructions := make([]string, len(RestartInstructions))
			copy(instructions, RestartInstructions)
			body["instructions"] = instructions
			return body
		},
	}
)

// Generic returns the pass-through command used for names without a dedicated route
func Generic(name string) Command {
	return Command{
		Name:           name,
		Method:         http.MethodPost,
		DefaultMessage: name + " executed",
	}
}

func coordinate(payload map[string]interface{}, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return "unknown"
	}
	return fmt.Sprint(v)
}

func filename(c Call) string {
	if c.File == nil {
		return ""
	}
	return c.File.Filename
}

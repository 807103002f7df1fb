package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"sca-ctrl-core/actuator"
)

// console runs single actuator commands against the engine of a runner.
type console struct {
	ctx context.Context
	r   *Runner
}

type consoleCmd struct {
	name string
	help string
	run  func(c *console, args []string) (string, error)
}

var consoleCmds = []consoleCmd{
	{"list", "list", (*console).list},
	{"handshake", "handshake <id>", (*console).handshake},
	{"get", "get <parameter> <id>", (*console).get},
	{"state", "state <id>", (*console).state},
	{"power", "power on|off <id>", (*console).power},
	{"mode", "mode <run mode> <id>", (*console).mode},
	{"current", "current <-1..1> <id>", (*console).current},
	{"speed", "speed <-1..1> <id>", (*console).speed},
	{"position", "position <-127..128> <id>", (*console).position},
	{"limit", "limit <current|speed|position>_output_<upper|lower> <value> <id>", (*console).limit},
	{"bringup", "bringup", (*console).bringup},
	{"drive", "drive <cycles>", (*console).drive},
}

// exec runs one command line.
func (c *console) exec(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	for _, cmd := range consoleCmds {
		if cmd.name == fields[0] {
			return cmd.run(c, fields[1:])
		}
	}
	return "", fmt.Errorf("unknown command %q", fields[0])
}

// RunShell serves the interactive actuator console until it is closed.
func RunShell(ctx context.Context, r *Runner) {
	c := &console{ctx: ctx, r: r}

	shell := ishell.New()
	shell.Println("SCA actuator shell")
	for _, cmd := range consoleCmds {
		cmd := cmd
		shell.AddCmd(&ishell.Cmd{
			Name: cmd.name,
			Help: cmd.help,
			Func: func(sc *ishell.Context) {
				out, err := cmd.run(c, sc.Args)
				if err != nil {
					sc.Err(err)
					return
				}
				if out != "" {
					sc.Println(out)
				}
			},
		})
	}
	shell.Run()
	shell.Close()
}

func parseID(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("bad actuator id %q", s)
	}
	return uint8(v), nil
}

func needArgs(args []string, n int, usage string) error {
	if len(args) != n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func (c *console) snapshot(id uint8) (actuator.State, error) {
	rec, err := c.r.eng.Registry().Find(id)
	if err != nil {
		return actuator.State{}, err
	}
	return rec.Snapshot(), nil
}

func (c *console) list(args []string) (string, error) {
	var b strings.Builder
	for _, a := range c.r.axes {
		s, err := c.snapshot(a.ID)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%3d  %-7s failures=%d cascade=%s\n", a.ID, s.Liveness, s.FailureCount, a.Motor.Mode())
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func (c *console) handshake(args []string) (string, error) {
	if err := needArgs(args, 1, "handshake <id>"); err != nil {
		return "", err
	}
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	if err := c.r.eng.Handshake(c.ctx, id); err != nil {
		return "", err
	}
	return "ok", nil
}

func (c *console) get(args []string) (string, error) {
	if err := needArgs(args, 2, "get <parameter> <id>"); err != nil {
		return "", err
	}
	op, ok := actuator.ParseOpcode("get_" + args[0])
	if !ok || !op.IsGetter() {
		return "", fmt.Errorf("unknown parameter %q", args[0])
	}
	id, err := parseID(args[1])
	if err != nil {
		return "", err
	}
	if err := c.r.eng.GetParameter(c.ctx, op, id); err != nil {
		return "", err
	}
	return c.state([]string{args[1]})
}

func (c *console) state(args []string) (string, error) {
	if err := needArgs(args, 1, "state <id>"); err != nil {
		return "", err
	}
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	s, err := c.snapshot(id)
	if err != nil {
		return "", err
	}
	fields := map[string]string{
		"liveness":      s.Liveness.String(),
		"power":         s.Power.String(),
		"mode":          s.Mode.String(),
		"warnings":      s.Warnings.String(),
		"current":       fmt.Sprintf("%.6f", s.Current),
		"speed":         fmt.Sprintf("%.6f", s.Speed),
		"position":      fmt.Sprintf("%.6f", s.Position),
		"motor_temp":    fmt.Sprintf("%.2f", s.MotorTemp),
		"inverter_temp": fmt.Sprintf("%.2f", s.InverterTemp),
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k + "=" + fields[k])
	}
	return b.String(), nil
}

func (c *console) power(args []string) (string, error) {
	if err := needArgs(args, 2, "power on|off <id>"); err != nil {
		return "", err
	}
	var p actuator.PowerState
	switch args[0] {
	case "on":
		p = actuator.PowerOn
	case "off":
		p = actuator.PowerOff
	default:
		return "", fmt.Errorf("power must be on or off, got %q", args[0])
	}
	id, err := parseID(args[1])
	if err != nil {
		return "", err
	}
	if err := c.r.eng.SetPowerState(c.ctx, p, id); err != nil {
		return "", err
	}
	return "power " + p.String(), nil
}

func (c *console) mode(args []string) (string, error) {
	if err := needArgs(args, 2, "mode <run mode> <id>"); err != nil {
		return "", err
	}
	m, ok := actuator.ParseRunMode(args[0])
	if !ok {
		return "", fmt.Errorf("unknown run mode %q", args[0])
	}
	id, err := parseID(args[1])
	if err != nil {
		return "", err
	}
	if err := c.r.eng.SetMode(c.ctx, m, id); err != nil {
		return "", err
	}
	return "mode " + m.String(), nil
}

func (c *console) setValue(args []string, usage string, set func(context.Context, float64, uint8) error) (string, error) {
	if err := needArgs(args, 2, usage); err != nil {
		return "", err
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return "", err
	}
	id, err := parseID(args[1])
	if err != nil {
		return "", err
	}
	if err := set(c.ctx, v, id); err != nil {
		return "", err
	}
	return "ok", nil
}

func (c *console) current(args []string) (string, error) {
	return c.setValue(args, "current <-1..1> <id>", c.r.eng.SetCurrent)
}

func (c *console) speed(args []string) (string, error) {
	return c.setValue(args, "speed <-1..1> <id>", c.r.eng.SetSpeed)
}

func (c *console) position(args []string) (string, error) {
	return c.setValue(args, "position <-127..128> <id>", c.r.eng.SetPosition)
}

func (c *console) limit(args []string) (string, error) {
	if err := needArgs(args, 3, "limit <name> <value> <id>"); err != nil {
		return "", err
	}
	op, ok := actuator.ParseOpcode("set_" + args[0])
	if !ok {
		return "", fmt.Errorf("unknown limit %q", args[0])
	}
	return c.setValue(args[1:], "limit <name> <value> <id>", func(ctx context.Context, v float64, id uint8) error {
		return c.r.eng.SetOutputLimit(ctx, op, v, id)
	})
}

func (c *console) bringup(args []string) (string, error) {
	if err := c.r.Bringup(c.ctx); err != nil {
		return "", err
	}
	return "ok", nil
}

func (c *console) drive(args []string) (string, error) {
	if err := needArgs(args, 1, "drive <cycles>"); err != nil {
		return "", err
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return "", fmt.Errorf("bad cycle count %q", args[0])
	}
	var failed int
	for i := 0; i < n; i++ {
		if err := c.r.DriveCycle(c.ctx); err != nil {
			failed++
			c.r.log.Warn("cycle %d: %v", i, err)
		}
	}
	return fmt.Sprintf("%d cycles, %d failed", n, failed), nil
}

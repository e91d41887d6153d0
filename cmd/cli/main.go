package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"scenesync"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

// realMain replays a JSON-lines joint-state log, one
// {"names": [...], "positions": [...]} object per line, through the jump
// filter and reports the verdict for each frame.
func realMain() error {
	ctx := context.Background()
	logger := logging.NewLogger("scenesync-cli")

	threshold := flag.Float64("threshold", 1.0, "summed joint motion in degrees that counts as a jump")
	confirm := flag.Int("confirm", 10, "frames a jump must persist before it is accepted")
	joints := flag.String("joints", strings.Join(scenesync.DefaultJointNames, ","), "comma separated joint order")
	flag.Parse()

	var in io.Reader = os.Stdin
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			return errors.Wrap(err, "failed to open joint log")
		}
		defer f.Close()
		in = f
	}

	follower := scenesync.NewJointFollower(
		strings.Split(*joints, ","),
		scenesync.JumpFilterConfig{ThresholdDeg: *threshold, ConfirmFrames: *confirm},
		nil,
		logger,
	)

	scanner := bufio.NewScanner(in)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			logger.Warnf("line %d: %v", line, err)
			continue
		}
		js, err := scenesync.ParseJointState(raw)
		if err != nil {
			logger.Warnf("line %d: %v", line, err)
			continue
		}
		verdict, err := follower.HandleJointState(ctx, js)
		if err != nil {
			logger.Warnf("line %d: %v", line, err)
			continue
		}
		fmt.Printf("%d\t%s\t%v\n", line, verdict, follower.Targets())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "failed to read joint log")
	}

	st := follower.Stats()
	logger.Infof("Replayed %d frames: %d accepted, %d rejected, %d unknown joints",
		st.Received, st.Accepted, st.Rejected, st.UnknownJoints)
	return nil
}

package scenesync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
	"google.golang.org/protobuf/encoding/protojson"
)

var WorldSyncModel = resource.NewModel("devrel", "scenesync", "world-sync")

func init() {
	resource.RegisterService(
		generic.API,
		WorldSyncModel,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newWorldSync,
		})
}

// worldSync keeps a remote planner's collision world in step with the local
// scene and follows the remote arm's joint stream.
type worldSync struct {
	resource.Named
	resource.AlwaysRebuild

	logger logging.Logger
	cfg    *Config

	registry   *ObjectRegistry
	outbox     *Outbox
	sync       *Synchronizer
	scene      *MemoryScene
	controller *AttachController
	follower   *JointFollower
	scheduler  *Scheduler
}

func newWorldSync(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (resource.Resource, error) {
	newConf, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}
	return NewWorldSync(ctx, deps, conf.ResourceName(), newConf, logger)
}

// NewWorldSync wires the service from a validated config.
func NewWorldSync(
	ctx context.Context,
	deps resource.Dependencies,
	name resource.Name,
	conf *Config,
	logger logging.Logger,
) (resource.Resource, error) {
	basis, err := conf.Basis()
	if err != nil {
		return nil, err
	}

	var drive DriveTarget
	if conf.Arm != "" {
		res, err := deps.Lookup(resource.NewName(arm.API, conf.Arm))
		if err != nil {
			return nil, errors.Wrapf(err, "follower arm %q", conf.Arm)
		}
		followerArm, ok := res.(arm.Arm)
		if !ok {
			return nil, fmt.Errorf("resource %q is not an arm", conf.Arm)
		}
		drive = NewArmDrive(followerArm, logger)
		logger.Infof("Following joint states onto arm %s", conf.Arm)
	}

	registry := NewObjectRegistry(conf.ReconcileAfter, logger)
	outbox := NewOutbox(conf.OutboxSize, logger)
	scene := NewMemoryScene()
	synchronizer := NewSynchronizer(registry, NewFrameTransform(basis), outbox, conf.ObstacleFilter(), conf.FrameID, logger)

	w := &worldSync{
		Named:      name.AsNamed(),
		logger:     logger,
		cfg:        conf,
		registry:   registry,
		outbox:     outbox,
		sync:       synchronizer,
		scene:      scene,
		controller: NewAttachController(conf.RobotLink, conf.EndEffector, conf.PickLimits(), synchronizer, scene, logger),
		follower:   NewJointFollower(conf.JointNames, conf.JumpFilter(), drive, logger),
	}
	w.scheduler = NewScheduler(conf.PublishInterval(), w.syncPass, logger)
	w.scheduler.Start()

	logger.Infof("World sync started (frame %s, link %s, every %s)", conf.FrameID, conf.RobotLink, conf.PublishInterval())
	return w, nil
}

func (w *worldSync) syncPass(ctx context.Context) SyncResult {
	objs, err := w.scene.Objects(ctx)
	if err != nil {
		return SyncResult{Err: err}
	}
	return w.sync.Synchronize(ctx, objs)
}

// applySnapshot feeds a membership message to the registry and answers
// reconcile findings.
func (w *worldSync) applySnapshot(ctx context.Context, snap WorldSnapshot) ReconcileReport {
	report := w.registry.ApplySnapshot(snap.IDs, snap.Replace)
	for _, id := range report.Dropped {
		w.logger.Warnf("Placement of %s never appeared remotely; it will be re-added", id)
	}
	for _, id := range report.Diverged {
		w.logger.Warnf("Held object %s is still a free obstacle remotely; re-asserting attach", id)
		if err := w.controller.Reassert(ctx, id); err != nil {
			w.logger.Warnf("Re-asserting %s failed: %v", id, err)
		}
	}
	return report
}

func (w *worldSync) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "scene_objects":
		objs, err := ParseSceneObjects(cmd)
		if err != nil {
			return nil, err
		}
		w.scene.Upsert(objs...)
		return map[string]interface{}{"upserted": len(objs)}, nil

	case "remove_scene_object":
		id, _ := cmd["id"].(string)
		if id == "" {
			return nil, errors.Wrap(ErrMalformedMessage, "remove_scene_object requires 'id'")
		}
		deleted := w.scene.Delete(id)
		removed := false
		if w.registry.Exists(id) {
			if err := w.sync.Remove(ctx, id); err != nil {
				return nil, err
			}
			removed = true
		}
		return map[string]interface{}{"deleted": deleted, "removed": removed}, nil

	case "world_snapshot":
		snap, err := ParseWorldSnapshot(cmd, w.cfg.FullSnapshot)
		if err != nil {
			return nil, err
		}
		report := w.applySnapshot(ctx, snap)
		return map[string]interface{}{
			"confirmed":  stringsToInterfaces(report.Confirmed),
			"dropped":    stringsToInterfaces(report.Dropped),
			"reasserted": stringsToInterfaces(report.Reasserted),
			"diverged":   stringsToInterfaces(report.Diverged),
		}, nil

	case "attach_event":
		ev, err := ParseAttachEvent(cmd)
		if err != nil {
			return nil, err
		}
		w.registry.ApplyAttachEvent(ev.ID, ev.Link, ev.Op)
		return map[string]interface{}{"state": w.registry.Entry(ev.ID).State.String()}, nil

	case "joint_state":
		js, err := ParseJointState(cmd)
		if err != nil {
			return nil, err
		}
		verdict, err := w.follower.HandleJointState(ctx, js)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"verdict":  verdict.String(),
			"accepted": verdict.Accepted(),
		}, nil

	case "sync":
		if async, _ := cmd["async"].(bool); async {
			w.scheduler.Trigger()
			return map[string]interface{}{"triggered": true}, nil
		}
		return w.scheduler.RunOnce(ctx).ToMap(), nil

	case "pick":
		id, err := w.controller.Pick(ctx, finderFromCommand(cmd))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"id": id}, nil

	case "release":
		id, err := w.controller.Release(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"id": id}, nil

	case "toggle":
		id, err := w.controller.Toggle(ctx, finderFromCommand(cmd))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"id": id, "holding": w.controller.State().Phase == HoldHolding}, nil

	case "set_interval":
		seconds, ok := toFloat(cmd["seconds"])
		if !ok {
			return nil, fmt.Errorf("set_interval command requires 'seconds' parameter")
		}
		if err := w.scheduler.SetInterval(time.Duration(seconds * float64(time.Second))); err != nil {
			return nil, err
		}
		return map[string]interface{}{"interval_sec": w.scheduler.Interval().Seconds()}, nil

	case "drain_updates":
		withGeometry, _ := cmd["geometry"].(bool)
		msgs := w.outbox.Drain()
		out := make([]interface{}, 0, len(msgs))
		for _, m := range msgs {
			rendered := m.ToMap()
			if withGeometry && m.Collision != nil {
				g, err := geometryMap(*m.Collision)
				if err != nil {
					return nil, err
				}
				if g != nil {
					rendered["geometry"] = g
				}
			}
			out = append(out, rendered)
		}
		return map[string]interface{}{"updates": out}, nil

	case "status":
		return w.status(), nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (w *worldSync) status() map[string]interface{} {
	reg := w.registry.Status()
	hold := w.controller.State()
	filter := w.follower.State()
	fol := w.follower.Stats()
	sched := w.scheduler.Status()
	queued, dropped := w.outbox.Stats()

	targets := w.follower.Targets()
	joints := make(map[string]interface{}, len(targets))
	for i, name := range w.cfg.JointNames {
		joints[name] = targets[i]
	}

	return map[string]interface{}{
		"registry": map[string]interface{}{
			"in_world": reg.InWorld,
			"attached": reg.Attached,
			"pending":  reg.Pending,
			"seq":      reg.Seq,
		},
		"hold": map[string]interface{}{
			"phase":           hold.Phase.String(),
			"id":              hold.ID,
			"original_parent": hold.OriginalParent,
		},
		"filter": map[string]interface{}{
			"phase":  filter.Phase.String(),
			"streak": filter.Streak,
		},
		"follower": map[string]interface{}{
			"received":       fol.Received,
			"accepted":       fol.Accepted,
			"rejected":       fol.Rejected,
			"unknown_joints": fol.UnknownJoints,
			"malformed":      fol.Malformed,
			"targets_deg":    joints,
		},
		"scheduler": map[string]interface{}{
			"interval_sec": sched.Interval.Seconds(),
			"runs":         sched.Runs,
		},
		"outbox": map[string]interface{}{
			"queued":  queued,
			"dropped": dropped,
		},
	}
}

// finderFromCommand reads the caller's raycast result: {"id", "distance"}.
// Without an id there is no hit.
func finderFromCommand(cmd map[string]interface{}) TargetFinder {
	id, _ := cmd["id"].(string)
	if id == "" {
		return nil
	}
	distance, _ := toFloat(cmd["distance"])
	return TargetFinderFunc(func(ctx context.Context, maxDistance float64) (PickTarget, bool) {
		return PickTarget{ID: id, Distance: distance}, true
	})
}

// geometryMap renders the update's box as a Viam geometry message.
func geometryMap(u CollisionUpdate) (map[string]interface{}, error) {
	g, err := u.Proto()
	if err != nil || g == nil {
		return nil, err
	}
	data, err := protojson.Marshal(g)
	if err != nil {
		return nil, errors.Wrap(err, "marshal geometry")
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, "decode geometry")
	}
	return out, nil
}

func (w *worldSync) Close(context.Context) error {
	w.logger.Info("Closing world sync")
	w.scheduler.Close()
	return nil
}

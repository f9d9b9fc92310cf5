/*
Copyright 2023 The usp-agent-stomp Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package subscription implements the notification side of the agent:
// standing subscriptions from controllers, the value change poller, the
// retry queue for unacknowledged notifications, and the construction of
// outgoing Notify messages.
package subscription

import (
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/h820614/usp-agent-stomp/pkg/datamodel"
	"github.com/h820614/usp-agent-stomp/pkg/retry"
	"github.com/h820614/usp-agent-stomp/pkg/uspproto"
)

// Notification kinds stored in Device.LocalAgent.Subscription.{i}.NotifType.
const (
	KindValueChange       = "ValueChange"
	KindObjectCreation    = "ObjectCreation"
	KindObjectDeletion    = "ObjectDeletion"
	KindOperationComplete = "OperationComplete"
	KindEvent             = "Event"
	KindPeriodic          = "Periodic"
)

// DefaultValueChangePollPeriod is the default seconds between value change
// polls.
const DefaultValueChangePollPeriod = 30 * time.Second

// SubscriptionTable is the data model table the engine mirrors.
const SubscriptionTable = "Device.LocalAgent.Subscription"

// SendFunc delivers an encoded-ready Notify message towards a controller
// endpoint over its preferred MTP. A non-nil error means the message did
// not leave the agent (for example the controller has no live MTP); the
// engine then queues it for retry.
type SendFunc func(controllerEndpointID string, msg *uspproto.Msg) error

// Subscription is the runtime mirror of one subscription row.
type Subscription struct {
	Instance   int
	ID         string
	Recipient  string // controller endpoint id
	NotifType  string
	RefList    []string
	Enable     bool
	NotifRetry bool
	// NotifExpiration bounds retries of this subscription's notifications.
	NotifExpiration time.Duration
	// PeriodicInterval drives Periodic! events.
	PeriodicInterval time.Duration
	nextPeriodic     time.Time
}

// pendingNotify is one unacknowledged notification awaiting NotifyResponse.
type pendingNotify struct {
	sub       *Subscription
	msg       *uspproto.Msg
	attempts  int
	started   time.Time
	nextRetry time.Time
}

// Engine owns all subscription state. It lives on the datamodel module
// goroutine; no locking.
type Engine struct {
	reg   *datamodel.Registry
	sched *retry.Scheduler
	send  SendFunc

	subs []*Subscription

	// per-controller strictly increasing notify message ids
	msgIDs map[string]uint64

	// value change snapshots keyed by concrete parameter path
	snapshots  map[string]string
	pollPeriod time.Duration
	lastPoll   time.Time

	pending []*pendingNotify
}

// NewEngine builds an engine over the registry. It registers itself as a
// commit observer for object creation and deletion notifications.
func NewEngine(reg *datamodel.Registry, sched *retry.Scheduler, send SendFunc, pollPeriod time.Duration) *Engine {
	if pollPeriod <= 0 {
		pollPeriod = DefaultValueChangePollPeriod
	}
	e := &Engine{
		reg:        reg,
		sched:      sched,
		send:       send,
		msgIDs:     map[string]uint64{},
		snapshots:  map[string]string{},
		pollPeriod: pollPeriod,
	}
	reg.AddCommitObserver(e)
	return e
}

// Reload rebuilds the runtime subscription set from the data model table.
// Called at startup and whenever the table changes.
func (e *Engine) Reload() {
	nums, err := e.reg.Instances(SubscriptionTable)
	if err != nil {
		klog.Errorf("failed to enumerate subscriptions: %v", err)
		return
	}
	old := map[int]*Subscription{}
	for _, s := range e.subs {
		old[s.Instance] = s
	}
	var subs []*Subscription
	for _, n := range nums {
		row := SubscriptionTable + "." + strconv.Itoa(n)
		s := &Subscription{Instance: n}
		s.Enable = e.reg.GetBool(row + ".Enable")
		s.ID, _ = e.reg.GetValue(row + ".ID")
		s.NotifType, _ = e.reg.GetValue(row + ".NotifType")
		s.NotifRetry = e.reg.GetBool(row + ".NotifRetry")
		s.NotifExpiration = time.Duration(e.reg.GetInt(row+".NotifExpiration", 0)) * time.Second
		s.PeriodicInterval = time.Duration(e.reg.GetInt(row+".PeriodicNotifInterval", 0)) * time.Second

		refList, _ := e.reg.GetValue(row + ".ReferenceList")
		for _, ref := range strings.Split(refList, ",") {
			ref = strings.TrimSpace(ref)
			if ref != "" {
				s.RefList = append(s.RefList, ref)
			}
		}

		// Recipient is a reference to a controller row
		recipient, _ := e.reg.GetValue(row + ".Recipient")
		if recipient != "" {
			ep, gerr := e.reg.GetValue(strings.TrimSuffix(recipient, ".") + ".EndpointID")
			if gerr == nil {
				s.Recipient = ep
			}
		}

		if prev, ok := old[n]; ok {
			s.nextPeriodic = prev.nextPeriodic
		}
		subs = append(subs, s)
	}
	e.subs = subs
	e.primeSnapshots()
}

// primeSnapshots captures the current values of every value change
// subscribed parameter so the first poll reports only real changes.
func (e *Engine) primeSnapshots() {
	for _, s := range e.subs {
		if !s.Enable || s.NotifType != KindValueChange {
			continue
		}
		for _, expr := range s.RefList {
			params, err := e.resolveParams(expr)
			if err != nil {
				continue
			}
			for path, value := range params {
				if _, seen := e.snapshots[path]; !seen {
					e.snapshots[path] = value
				}
			}
		}
	}
}

func (e *Engine) resolveParams(expr string) (map[string]string, error) {
	resolved, err := e.reg.Resolve(expr)
	if err != nil {
		return nil, err
	}
	params, err := e.reg.ExpandParams(resolved)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(params))
	for _, rp := range params {
		v, gerr := e.reg.GetValue(rp.Path)
		if gerr != nil {
			continue
		}
		out[rp.Path] = v
	}
	return out, nil
}

// nextMsgID stamps the per-controller monotonically increasing notify id.
func (e *Engine) nextMsgID(controller string) string {
	e.msgIDs[controller]++
	return "notify-" + strconv.FormatUint(e.msgIDs[controller], 10)
}

// dispatch wraps a notification body and sends it, entering the retry queue
// when the subscription requires acknowledgement.
func (e *Engine) dispatch(s *Subscription, n *uspproto.Notify) {
	if s.Recipient == "" {
		klog.Warningf("subscription %d has no resolvable recipient, dropping notification", s.Instance)
		return
	}
	n.SubscriptionID = s.ID
	n.SendResp = s.NotifRetry
	msg := &uspproto.Msg{
		MsgID:   e.nextMsgID(s.Recipient),
		MsgType: uspproto.MsgNotify,
		Notify:  n,
	}
	err := e.send(s.Recipient, msg)
	if err != nil {
		klog.Warningf("notification %s to %s not sent, queueing: %v", msg.MsgID, s.Recipient, err)
	}
	if s.NotifRetry || err != nil {
		now := time.Now()
		e.pending = append(e.pending, &pendingNotify{
			sub:       s,
			msg:       msg,
			attempts:  1,
			started:   now,
			nextRetry: now.Add(e.sched.NextDelay(retry.CategoryNotify, 0)),
		})
	}
}

// Tick advances the engine clocks: the value change poll, periodic events
// and due notification retries. Called regularly by the owning module.
func (e *Engine) Tick(now time.Time) {
	if now.Sub(e.lastPoll) >= e.pollPeriod {
		e.lastPoll = now
		e.pollValueChanges()
	}
	e.firePeriodic(now)
	e.retryPending(now)
}

// NextDeadline reports when Tick next has real work, so the module loop can
// sleep precisely.
func (e *Engine) NextDeadline(now time.Time) time.Time {
	next := e.lastPoll.Add(e.pollPeriod)
	for _, s := range e.subs {
		if s.Enable && s.NotifType == KindPeriodic && !s.nextPeriodic.IsZero() && s.nextPeriodic.Before(next) {
			next = s.nextPeriodic
		}
	}
	for _, p := range e.pending {
		if p.nextRetry.Before(next) {
			next = p.nextRetry
		}
	}
	if next.Before(now) {
		return now
	}
	return next
}

// pollValueChanges compares current values against the last snapshot for
// every value change subscribed parameter and notifies diffs.
func (e *Engine) pollValueChanges() {
	seen := map[string]bool{}
	for _, s := range e.subs {
		if !s.Enable || s.NotifType != KindValueChange {
			continue
		}
		for _, expr := range s.RefList {
			params, err := e.resolveParams(expr)
			if err != nil {
				klog.V(2).Infof("value change poll of %q failed: %v", expr, err)
				continue
			}
			for path, value := range params {
				seen[path] = true
				last, had := e.snapshots[path]
				if had && last == value {
					continue
				}
				e.snapshots[path] = value
				if !had {
					// parameter appeared, snapshot only
					continue
				}
				e.dispatch(s, &uspproto.Notify{
					ValueChange: &uspproto.ValueChangeNotify{ParamPath: path, ParamValue: value},
				})
			}
		}
	}
	// drop snapshots of parameters no longer subscribed
	for path := range e.snapshots {
		if !seen[path] {
			delete(e.snapshots, path)
		}
	}
}

func (e *Engine) firePeriodic(now time.Time) {
	for _, s := range e.subs {
		if !s.Enable || s.NotifType != KindPeriodic || s.PeriodicInterval <= 0 {
			continue
		}
		if s.nextPeriodic.IsZero() {
			s.nextPeriodic = now.Add(s.PeriodicInterval)
			continue
		}
		if now.Before(s.nextPeriodic) {
			continue
		}
		s.nextPeriodic = now.Add(s.PeriodicInterval)
		e.dispatch(s, &uspproto.Notify{
			Event: &uspproto.EventNotify{
				ObjPath:   "Device.LocalAgent.",
				EventName: "Periodic!",
				Params:    map[string]string{},
			},
		})
	}
}

// retryPending re-sends unacknowledged notifications whose deadline passed
// and expires those out of retry budget.
func (e *Engine) retryPending(now time.Time) {
	var keep []*pendingNotify
	for _, p := range e.pending {
		if now.Before(p.nextRetry) {
			keep = append(keep, p)
			continue
		}
		expired := e.sched.Expired(retry.CategoryNotify, p.started)
		if !expired && p.sub.NotifExpiration > 0 && now.Sub(p.started) > p.sub.NotifExpiration {
			expired = true
		}
		if expired {
			klog.Warningf("notification %s to %s expired after %d attempts", p.msg.MsgID, p.sub.Recipient, p.attempts)
			continue
		}
		serr := e.send(p.sub.Recipient, p.msg)
		if serr != nil {
			klog.V(2).Infof("retry of notification %s failed: %v", p.msg.MsgID, serr)
		}
		if serr == nil && !p.sub.NotifRetry {
			// no acknowledgement expected, delivery is enough
			continue
		}
		p.attempts++
		p.nextRetry = now.Add(e.sched.NextDelay(retry.CategoryNotify, p.attempts-1))
		keep = append(keep, p)
	}
	e.pending = keep
}

// HandleNotifyResponse clears pending notifications acknowledged by a
// controller's NotifyResponse.
func (e *Engine) HandleNotifyResponse(subscriptionID string) {
	var keep []*pendingNotify
	for _, p := range e.pending {
		if p.sub.ID == subscriptionID {
			continue
		}
		keep = append(keep, p)
	}
	e.pending = keep
}

// PendingCount reports the size of the retry queue.
func (e *Engine) PendingCount() int {
	return len(e.pending)
}

// ObjectCreated implements datamodel.CommitObserver.
func (e *Engine) ObjectCreated(path string) {
	e.maybeReload(path)
	for _, s := range e.subs {
		if !s.Enable || s.NotifType != KindObjectCreation {
			continue
		}
		if matchAny(s.RefList, path) {
			e.dispatch(s, &uspproto.Notify{
				ObjCreation: &uspproto.ObjectCreationNotify{ObjPath: path + ".", UniqueKeys: map[string]string{}},
			})
		}
	}
}

// ObjectDeleted implements datamodel.CommitObserver.
func (e *Engine) ObjectDeleted(path string) {
	for _, s := range e.subs {
		if !s.Enable || s.NotifType != KindObjectDeletion {
			continue
		}
		if matchAny(s.RefList, path) {
			e.dispatch(s, &uspproto.Notify{
				ObjDeletion: &uspproto.ObjectDeletionNotify{ObjPath: path + "."},
			})
		}
	}
	e.maybeReload(path)
}

// ValueChanged implements datamodel.CommitObserver. Value changes travel
// through the poller; the observer only keeps subscription rows fresh.
func (e *Engine) ValueChanged(path, value string) {
	if strings.HasPrefix(path, SubscriptionTable+".") {
		e.Reload()
	}
}

func (e *Engine) maybeReload(path string) {
	if strings.HasPrefix(path, SubscriptionTable+".") {
		e.Reload()
	}
}

// OperationComplete notifies subscribers of a finished async operation.
// Failure is reported through cmdErr.
func (e *Engine) OperationComplete(objPath, commandName, commandKey string, output map[string]string, cmdErr error) {
	full := objPath + commandName
	for _, s := range e.subs {
		if !s.Enable || s.NotifType != KindOperationComplete {
			continue
		}
		if !matchAny(s.RefList, full) && !matchAny(s.RefList, objPath) {
			continue
		}
		oc := &uspproto.OperationCompleteNotify{
			ObjPath:     objPath,
			CommandName: commandName,
			CommandKey:  commandKey,
		}
		if cmdErr != nil {
			oc.CmdFailure = &uspproto.OperationFailure{
				ErrCode: uint32(codeOf(cmdErr)),
				ErrMsg:  cmdErr.Error(),
			}
		} else {
			oc.OutputArgs = output
		}
		e.dispatch(s, &uspproto.Notify{OperComplete: oc})
	}
}

// EmitOnBoardRequest announces the agent to one controller, outside any
// subscription.
func (e *Engine) EmitOnBoardRequest(controllerEP, oui, productClass, serial, protocolVersions string) {
	msg := &uspproto.Msg{
		MsgID:   e.nextMsgID(controllerEP),
		MsgType: uspproto.MsgNotify,
		Notify: &uspproto.Notify{
			SendResp: true,
			OnBoardReq: &uspproto.OnBoardRequestNotify{
				OUI:                       oui,
				ProductClass:              productClass,
				SerialNumber:              serial,
				AgentSupportedProtocolVer: protocolVersions,
			},
		},
	}
	if err := e.send(controllerEP, msg); err != nil {
		klog.Warningf("onboard request to %s not sent: %v", controllerEP, err)
	}
}

// EmitEvent notifies subscribers of a data model event such as Boot!.
func (e *Engine) EmitEvent(objPath, eventName string, params map[string]string) {
	full := objPath + eventName
	for _, s := range e.subs {
		if !s.Enable || s.NotifType != KindEvent {
			continue
		}
		if !matchAny(s.RefList, full) && !matchAny(s.RefList, objPath) {
			continue
		}
		e.dispatch(s, &uspproto.Notify{
			Event: &uspproto.EventNotify{ObjPath: objPath, EventName: eventName, Params: params},
		})
	}
}

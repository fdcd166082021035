package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	pb "github.com/openconfig/gnmi/proto/gnmi"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openconfig/aft-resolver/pkg/api"
	"github.com/openconfig/aft-resolver/pkg/fib"
	"github.com/openconfig/aft-resolver/pkg/logging"
	"github.com/openconfig/aft-resolver/pkg/logging/logfields"
)

const subscriberQueue = 100

// networkInstance is the OpenConfig network instance the AFTs are published
// under.
const networkInstance = "default"

// GNMIServer implements the gNMI service.
type GNMIServer struct {
	pb.UnimplementedGNMIServer

	fib           *fib.FIB
	telemetryChan <-chan api.AFTUpdate
	log           logrus.FieldLogger

	mu           sync.RWMutex
	subscribers  map[int64]chan api.AFTUpdate
	subIDCounter int64
}

// New creates a new GNMIServer. Run must be called to fan out updates.
func New(f *fib.FIB, telemetryChan <-chan api.AFTUpdate) *GNMIServer {
	return &GNMIServer{
		fib:           f,
		telemetryChan: telemetryChan,
		log:           logging.ForSubsys("telemetry"),
		subscribers:   make(map[int64]chan api.AFTUpdate),
	}
}

// Run broadcasts updates from the FIB to every subscriber until ctx is done
// or the telemetry channel is closed.
func (s *GNMIServer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-s.telemetryChan:
			if !ok {
				return nil
			}
			s.broadcast(update)
		}
	}
}

func (s *GNMIServer) broadcast(update api.AFTUpdate) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, subChan := range s.subscribers {
		// Drop the update rather than block on a slow consumer.
		select {
		case subChan <- update:
		default:
			s.log.WithField("subscriber", id).Warn("Subscriber queue full, dropping AFT update")
		}
	}
}

// Subscribe implements the gNMI Subscribe RPC.
func (s *GNMIServer) Subscribe(stream pb.GNMI_SubscribeServer) error {
	req, err := stream.Recv()
	if err != nil {
		return err
	}

	if req.GetSubscribe().GetMode() != pb.SubscriptionList_STREAM {
		return status.Errorf(codes.Unimplemented, "only STREAM mode is supported")
	}

	subChan := make(chan api.AFTUpdate, subscriberQueue)
	s.mu.Lock()
	s.subIDCounter++
	id := s.subIDCounter
	s.subscribers[id] = subChan
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}()

	scopedLog := s.log.WithField("subscriber", id)
	scopedLog.Info("New AFT subscriber")

	snapshot := s.fib.GetSnapshot()
	for _, update := range snapshot {
		if err := s.send(stream, update); err != nil {
			return err
		}
	}
	scopedLog.WithField(logfields.Count, len(snapshot)).Debug("Sent initial snapshot")

	if err := stream.Send(&pb.SubscribeResponse{
		Response: &pb.SubscribeResponse_SyncResponse{SyncResponse: true},
	}); err != nil {
		return err
	}

	for {
		select {
		case update := <-subChan:
			if err := s.send(stream, update); err != nil {
				return err
			}
		case <-stream.Context().Done():
			scopedLog.Info("AFT subscriber gone")
			return nil
		}
	}
}

func (s *GNMIServer) send(stream pb.GNMI_SubscribeServer, update api.AFTUpdate) error {
	notif, err := aftToNotification(update, time.Now())
	if err != nil {
		s.log.WithError(err).Warn("Skipping AFT update")
		return nil
	}
	return stream.Send(&pb.SubscribeResponse{
		Response: &pb.SubscribeResponse_Update{Update: notif},
	})
}

func elem(name string) *pb.PathElem {
	return &pb.PathElem{Name: name}
}

func keyed(name, key, value string) *pb.PathElem {
	return &pb.PathElem{Name: name, Key: map[string]string{key: value}}
}

func aftPath(elems ...*pb.PathElem) *pb.Path {
	return &pb.Path{Elem: append([]*pb.PathElem{
		elem("network-instances"),
		keyed("network-instance", "name", networkInstance),
		elem("afts"),
	}, elems...)}
}

// entryPath returns the path of the AFT entry an update refers to.
func entryPath(update api.AFTUpdate) (*pb.Path, error) {
	switch update.EntryType {
	case api.AFTEntryNextHop:
		return aftPath(
			elem("next-hops"),
			keyed("next-hop", "index", strconv.FormatUint(update.NextHopIndex, 10)),
		), nil
	case api.AFTEntryNextHopGroup:
		return aftPath(
			elem("next-hop-groups"),
			keyed("next-hop-group", "id", strconv.FormatUint(update.NextHopGroup, 10)),
		), nil
	case api.AFTEntryPrefix:
		if !update.Prefix.IsValid() {
			return nil, fmt.Errorf("invalid prefix %q", update.Prefix)
		}
		table, entry := "ipv4-unicast", "ipv4-entry"
		if update.Prefix.Addr().Is6() {
			table, entry = "ipv6-unicast", "ipv6-entry"
		}
		return aftPath(
			elem(table),
			keyed(entry, "prefix", update.Prefix.String()),
		), nil
	}
	return nil, fmt.Errorf("unknown AFT entry type %q", update.EntryType)
}

func leaf(base *pb.Path, val *pb.TypedValue, names ...string) *pb.Update {
	elems := make([]*pb.PathElem, 0, len(base.Elem)+len(names))
	elems = append(elems, base.Elem...)
	for _, name := range names {
		elems = append(elems, elem(name))
	}
	return &pb.Update{Path: &pb.Path{Elem: elems}, Val: val}
}

func uintVal(v uint64) *pb.TypedValue {
	return &pb.TypedValue{Value: &pb.TypedValue_UintVal{UintVal: v}}
}

func stringVal(v string) *pb.TypedValue {
	return &pb.TypedValue{Value: &pb.TypedValue_StringVal{StringVal: v}}
}

func uintList(vs []uint64) *pb.TypedValue {
	elems := make([]*pb.TypedValue, 0, len(vs))
	for _, v := range vs {
		elems = append(elems, uintVal(v))
	}
	return &pb.TypedValue{Value: &pb.TypedValue_LeaflistVal{LeaflistVal: &pb.ScalarArray{Element: elems}}}
}

func aftToNotification(update api.AFTUpdate, now time.Time) (*pb.Notification, error) {
	path, err := entryPath(update)
	if err != nil {
		return nil, err
	}
	notif := &pb.Notification{Timestamp: now.UnixNano()}

	if update.Action == api.Delete {
		notif.Delete = []*pb.Path{path}
		return notif, nil
	}

	switch update.EntryType {
	case api.AFTEntryNextHop:
		nh := update.NextHop
		notif.Update = append(notif.Update, leaf(path, uintVal(update.NextHopIndex), "state", "index"))
		if nh.IsAction() {
			notif.Update = append(notif.Update, leaf(path, stringVal(nh.Kind.String()), "state", "action"))
		} else {
			notif.Update = append(notif.Update, leaf(path, stringVal(nh.Addr.String()), "state", "ip-address"))
		}
		if nh.Interface != api.NoInterface {
			notif.Update = append(notif.Update, leaf(path, uintVal(uint64(nh.Interface)), "interface-ref", "state", "interface"))
		}
		if nh.Labels != nil {
			notif.Update = append(notif.Update, leaf(path, stringVal(nh.Labels.String()), "state", "label-action"))
			if nh.Labels.Type == api.LabelPush {
				labels := make([]uint64, 0, len(nh.Labels.PushStack))
				for _, l := range nh.Labels.PushStack {
					labels = append(labels, uint64(l))
				}
				notif.Update = append(notif.Update, leaf(path, uintList(labels), "state", "pushed-mpls-label-stack"))
			}
		}
	case api.AFTEntryNextHopGroup:
		notif.Update = append(notif.Update,
			leaf(path, uintVal(update.NextHopGroup), "state", "id"),
			leaf(path, uintList(update.NextHopIndexes), "state", "next-hops"),
		)
	case api.AFTEntryPrefix:
		notif.Update = append(notif.Update,
			leaf(path, stringVal(update.Prefix.String()), "state", "prefix"),
			leaf(path, uintVal(update.NextHopGroup), "state", "next-hop-group"),
		)
	}
	return notif, nil
}

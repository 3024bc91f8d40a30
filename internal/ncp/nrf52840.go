package ncp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// NRF52840Config configures the nRF52840 backend.
type NRF52840Config struct {
	Port     string
	BaudRate int
	// Commissioned reports whether this device joined a network in a
	// previous session. When true the initialization step resumes the
	// network from NCP NVRAM instead of reporting a first start.
	Commissioned func() bool
}

// NRF52840NCP implements NCP as a Zigbee end device on an nRF52840 running
// ZBOSS NCP firmware.
type NRF52840NCP struct {
	port     serial.Port
	portName string
	portMode *serial.Mode
	reader   *bufio.Reader
	logger   *slog.Logger
	loop     *Loop

	commissioned func() bool

	// HL-level request/response tracking (keyed by TSN).
	hlTSN     atomic.Uint32
	hlPending map[uint8]chan *zbossFrame
	hlMu      sync.Mutex

	// LL-level packet sequencing and ACK.
	llPktSeq uint8
	llSeqMu  sync.Mutex
	llAckCh  chan uint8
	writeMu  sync.Mutex

	handlerMu sync.RWMutex
	onSignal  func(Signal)
	onFrame   func(Frame) []byte

	// Signaled when NCPResetInd is received (used by resetAndReconnect).
	resetIndCh chan struct{}

	stateMu   sync.RWMutex
	cfg       Config
	inited    bool
	started   bool
	endpoints []SimpleDescriptor
	network   NetworkInfo
	localIEEE [8]byte

	// ctx bounds commissioning work; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	// lifecycleMu protects concurrent resetState/Close access to port, done,
	// llAckCh, closeOnce.
	lifecycleMu sync.Mutex
	done        chan struct{}
	closeOnce   sync.Once
	closed      bool
	wg          sync.WaitGroup
}

// NewNRF52840NCP opens the serial port and starts the frame reader.
func NewNRF52840NCP(cfg NRF52840Config, logger *slog.Logger) (*NRF52840NCP, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("nrf52840 ncp: open %s: %w", cfg.Port, err)
	}

	// USB CDC ACM: assert DTR/RTS for NCP firmware.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)

	commissioned := cfg.Commissioned
	if commissioned == nil {
		commissioned = func() bool { return false }
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &NRF52840NCP{
		port:         port,
		portName:     cfg.Port,
		portMode:     mode,
		reader:       bufio.NewReader(port),
		logger:       logger,
		loop:         NewLoop(64, logger),
		commissioned: commissioned,
		hlPending:    make(map[uint8]chan *zbossFrame),
		llAckCh:      make(chan uint8, 4),
		resetIndCh:   make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	n.wg.Add(1)
	go n.readLoop()
	return n, nil
}

func (n *NRF52840NCP) nextTSN() uint8 {
	return uint8(n.hlTSN.Add(1))
}

// nextPktSeq advances the LL packet sequence (cycles 1→2→3→1).
func (n *NRF52840NCP) nextPktSeq() uint8 {
	n.llSeqMu.Lock()
	n.llPktSeq = n.llPktSeq%3 + 1
	seq := n.llPktSeq
	n.llSeqMu.Unlock()
	return seq
}

// --- Transport: write with LL ACK ---

const (
	llACKTimeout  = 500 * time.Millisecond
	llMaxRetries  = 3
	hlRespTimeout = 5 * time.Second
	scanTimeout   = 15 * time.Second
	joinTimeout   = 30 * time.Second
	apsRadius     = 30
)

// request sends an HL request and waits for the HL response.
func (n *NRF52840NCP) request(ctx context.Context, callID uint16, payload []byte) (*zbossFrame, error) {
	tsn := n.nextTSN()

	ch := make(chan *zbossFrame, 1)
	n.hlMu.Lock()
	n.hlPending[tsn] = ch
	n.hlMu.Unlock()
	defer func() {
		n.hlMu.Lock()
		delete(n.hlPending, tsn)
		n.hlMu.Unlock()
	}()

	pktSeq := n.nextPktSeq()
	raw := zbossEncodeRequest(callID, tsn, pktSeq, payload)

	if err := n.writeWithACK(ctx, raw, pktSeq); err != nil {
		return nil, fmt.Errorf("nrf write cmd 0x%04X: %w", callID, err)
	}

	cmdName := zbossCmdName(callID)
	n.logger.Debug("zboss TX", "cmd", cmdName, "tsn", tsn, "payload", fmt.Sprintf("%X", payload))

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, fmt.Errorf("ncp reset: request cancelled")
		}
		status := zbossStatusName(resp.HL.StatusCat, resp.HL.StatusCode)
		if !resp.statusOK() {
			n.logger.Warn("zboss RX", "cmd", cmdName, "tsn", tsn, "status", status, "payload", fmt.Sprintf("%X", resp.Payload))
			return resp, fmt.Errorf("zboss %s: %s", cmdName, status)
		}
		n.logger.Debug("zboss RX", "cmd", cmdName, "tsn", tsn, "status", status, "payload", fmt.Sprintf("%X", resp.Payload))
		return resp, nil
	case <-ctx.Done():
		n.logger.Warn("zboss timeout", "cmd", cmdName, "tsn", tsn, "err", ctx.Err())
		return nil, ctx.Err()
	case <-n.done:
		return nil, ErrClosed
	}
}

// requestTimeout is request bounded by hlRespTimeout.
func (n *NRF52840NCP) requestTimeout(ctx context.Context, callID uint16, payload []byte) (*zbossFrame, error) {
	ctx, cancel := context.WithTimeout(ctx, hlRespTimeout)
	defer cancel()
	return n.request(ctx, callID, payload)
}

// writeWithACK writes a raw ZBOSS frame and waits for LL ACK with retries.
func (n *NRF52840NCP) writeWithACK(ctx context.Context, frame []byte, pktSeq uint8) error {
	for attempt := 0; attempt <= llMaxRetries; attempt++ {
		n.writeMu.Lock()
		_, err := n.port.Write(frame)
		n.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}

		deadline := time.NewTimer(llACKTimeout)
	waitACK:
		for {
			select {
			case ackSeq := <-n.llAckCh:
				if ackSeq == pktSeq {
					deadline.Stop()
					return nil
				}
				n.logger.Debug("zboss LL stale ACK drained", "got", ackSeq, "want", pktSeq)
			case <-deadline.C:
				n.logger.Warn("zboss LL ACK timeout", "attempt", attempt+1, "pktSeq", pktSeq)
				break waitACK
			case <-ctx.Done():
				deadline.Stop()
				return ctx.Err()
			case <-n.done:
				deadline.Stop()
				return ErrClosed
			}
		}
	}
	return fmt.Errorf("zboss LL ACK timeout after %d retries", llMaxRetries+1)
}

// sendACK sends an LL ACK for the given packet sequence.
func (n *NRF52840NCP) sendACK(pktSeq uint8) {
	raw := zbossEncodeACK(pktSeq)
	n.writeMu.Lock()
	_, err := n.port.Write(raw)
	n.writeMu.Unlock()
	if err != nil {
		n.logger.Error("zboss send ACK failed", "err", err)
	}
}

// --- Transport: read loop ---

func (n *NRF52840NCP) readLoop() {
	defer n.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-n.done:
			return
		default:
		}

		raw, err := readRawZBOSSFrame(n.reader)
		if err != nil {
			select {
			case <-n.done:
				return
			default:
			}
			if err != io.EOF && !strings.Contains(err.Error(), "closed") {
				n.logger.Error("nrf52840 read error", "err", err)
			}
			select {
			case <-time.After(backoff):
			case <-n.done:
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = 10 * time.Millisecond

		frame, err := zbossDecodeFrame(raw)
		if err != nil {
			n.logger.Warn("nrf52840 zboss decode error", "err", err)
			continue
		}

		if zbossLLIsACK(frame.LL.Flags) {
			select {
			case n.llAckCh <- zbossLLAckSeq(frame.LL.Flags):
			default:
			}
			continue
		}

		n.sendACK(zbossLLPktSeq(frame.LL.Flags))

		switch frame.HL.PacketType {
		case zbossHLResponse:
			n.hlMu.Lock()
			ch, ok := n.hlPending[frame.HL.TSN]
			n.hlMu.Unlock()
			if ok {
				select {
				case ch <- frame:
				default:
				}
			} else {
				n.logger.Warn("zboss orphaned response (too late)",
					"cmd", zbossCmdName(frame.HL.CallID),
					"tsn", frame.HL.TSN,
					"status", zbossStatusName(frame.HL.StatusCat, frame.HL.StatusCode))
			}

		case zbossHLIndication:
			n.handleIndication(frame)
		}
	}
}

// --- Indications ---

func (n *NRF52840NCP) handleIndication(f *zbossFrame) {
	switch f.HL.CallID {
	case zbossCmdAPSDEDataInd:
		fr, err := parseAPSDEDataInd(f.Payload)
		if err != nil {
			n.logger.Warn("APSDE_DataInd dropped", "err", err)
			return
		}
		if !n.hasEndpoint(fr.DstEP) {
			n.logger.Debug("frame for unregistered endpoint", "ep", fr.DstEP, "cluster", fmt.Sprintf("0x%04X", fr.ClusterID))
			return
		}
		n.loop.Post(func() { n.deliverFrame(fr) })

	case zbossCmdNwkLeaveInd:
		// Payload: ieee(8) + rejoin(1)
		if len(f.Payload) < 8 {
			return
		}
		rejoin := len(f.Payload) >= 9 && f.Payload[8] != 0
		n.stateMu.RLock()
		self := bytes.Equal(f.Payload[0:8], n.localIEEE[:])
		n.stateMu.RUnlock()
		n.logger.Info("NwkLeaveInd", "ieee", fmt.Sprintf("%X", f.Payload[0:8]), "self", self, "rejoin", rejoin)
		if self && !rejoin {
			n.stateMu.Lock()
			n.network = NetworkInfo{}
			n.stateMu.Unlock()
			n.postSignal(Signal{Type: SignalLeave})
		}

	case zbossCmdNCPResetInd:
		n.logger.Warn("NCPResetInd received")
		select {
		case n.resetIndCh <- struct{}{}:
		default:
		}

	default:
		n.logger.Debug("zboss unhandled indication",
			"cmd", zbossCmdName(f.HL.CallID),
			"payload", fmt.Sprintf("%X", f.Payload))
	}
}

// deliverFrame runs on the loop. The reply is sent from its own goroutine:
// request waits on readLoop, which may be blocked posting to the loop.
func (n *NRF52840NCP) deliverFrame(fr Frame) {
	n.handlerMu.RLock()
	h := n.onFrame
	n.handlerMu.RUnlock()
	if h == nil {
		return
	}
	rsp := h(fr)
	if rsp == nil {
		return
	}
	go n.sendReply(fr, rsp)
}

func (n *NRF52840NCP) sendReply(fr Frame, zclFrame []byte) {
	payload := buildAPSDEDataReq(fr.SrcAddr, fr.SrcEP, fr.DstEP, fr.ClusterID, fr.ProfileID, apsRadius, zclFrame)
	if _, err := n.requestTimeout(n.ctx, zbossCmdAPSDEDataReq, payload); err != nil {
		n.logger.Warn("zcl response send failed",
			"dst", fmt.Sprintf("0x%04X", fr.SrcAddr), "cluster", fmt.Sprintf("0x%04X", fr.ClusterID), "err", err)
	}
}

func (n *NRF52840NCP) postSignal(sig Signal) {
	n.loop.Post(func() {
		n.handlerMu.RLock()
		h := n.onSignal
		n.handlerMu.RUnlock()
		if h != nil {
			h(sig)
		}
	})
}

func (n *NRF52840NCP) hasEndpoint(ep uint8) bool {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	for _, d := range n.endpoints {
		if d.Endpoint == ep {
			return true
		}
	}
	return false
}

// --- Reset ---

// ZBOSS NCP reset options.
const (
	zbossResetNoOption   uint8 = 0x00
	zbossResetEraseNVRAM uint8 = 0x01
	zbossResetFactory    uint8 = 0x02
)

// resetAndReconnect sends an NCP reset command and waits for USB to re-enumerate.
// After reset the nRF52840 USB device disconnects and reconnects, so the old
// serial port is closed and reopened.
func (n *NRF52840NCP) resetAndReconnect(ctx context.Context, option uint8) error {
	// Send reset with all 3 possible LL packet sequences. After a process
	// restart the NCP's expected sequence is unknown, so only the matching one
	// will be accepted. The NCP reboots immediately; an ACK may never arrive.
	tsn := n.nextTSN()
	for _, seq := range []uint8{1, 2, 3} {
		raw := zbossEncodeRequest(zbossCmdNCPReset, tsn, seq, []byte{option})
		n.writeMu.Lock()
		_, _ = n.port.Write(raw)
		n.writeMu.Unlock()
	}
	time.Sleep(100 * time.Millisecond)
	n.logger.Info("NCP reset sent, waiting for USB reconnect", "option", option)

	// Close port first to unblock readLoop's blocking serial read, then wait.
	n.lifecycleMu.Lock()
	n.closeOnce.Do(func() { close(n.done) })
	n.port.Close()
	n.lifecycleMu.Unlock()
	n.wg.Wait()

	for attempt := 1; attempt <= 30; attempt++ {
		select {
		case <-time.After(1 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}

		port, err := serial.Open(n.portName, n.portMode)
		if err != nil {
			n.logger.Debug("waiting for NCP USB", "attempt", attempt, "err", err)
			continue
		}
		_ = port.SetDTR(true)
		_ = port.SetRTS(true)

		n.resetState(port)

		probeCtx, probeCancel := context.WithTimeout(ctx, 3*time.Second)
		_, err = n.request(probeCtx, zbossCmdGetModuleVersion, nil)
		probeCancel()
		if err == nil {
			n.logger.Info("NCP reconnected", "attempts", attempt)
			// NCPResetInd signals the ZBOSS stack finished its own startup.
			select {
			case <-n.resetIndCh:
			case <-time.After(3 * time.Second):
				n.logger.Warn("NCPResetInd not received, proceeding anyway")
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}

		n.logger.Debug("NCP not ready yet, retrying", "attempt", attempt, "err", err)
		n.lifecycleMu.Lock()
		n.closeOnce.Do(func() { close(n.done) })
		port.Close()
		n.lifecycleMu.Unlock()
		n.wg.Wait()
	}

	return fmt.Errorf("NCP did not recover after reset")
}

// resetState reinitializes internal state with a new serial port.
// Caller must ensure the previous readLoop has exited (wg.Wait) before calling.
func (n *NRF52840NCP) resetState(port serial.Port) {
	n.lifecycleMu.Lock()
	n.port = port
	n.reader = bufio.NewReader(port)
	n.done = make(chan struct{})
	n.llAckCh = make(chan uint8, 4)
	n.resetIndCh = make(chan struct{}, 1)
	n.closeOnce = sync.Once{}
	n.lifecycleMu.Unlock()

	n.hlMu.Lock()
	for tsn, ch := range n.hlPending {
		close(ch)
		delete(n.hlPending, tsn)
	}
	n.hlMu.Unlock()

	n.llSeqMu.Lock()
	n.llPktSeq = 0
	n.llSeqMu.Unlock()
	n.hlTSN.Store(0)

	n.wg.Add(1)
	go n.readLoop()
}

// --- NCP interface ---

// Init resets the NCP and configures it as an end device.
func (n *NRF52840NCP) Init(ctx context.Context, cfg Config) error {
	n.stateMu.Lock()
	if n.inited {
		n.stateMu.Unlock()
		return fmt.Errorf("nrf52840 ncp: already initialized")
	}
	n.stateMu.Unlock()

	if cfg.Role != RoleEndDevice {
		return fmt.Errorf("nrf52840 ncp: unsupported role %s", cfg.Role)
	}
	if cfg.ChannelMask == 0 {
		cfg.ChannelMask = AllChannelsMask
	}

	// Soft reset (no NVRAM erase) so LL sequence numbers start clean.
	if err := n.resetAndReconnect(ctx, zbossResetNoOption); err != nil {
		return fmt.Errorf("ncp reset: %w", err)
	}

	resp, err := n.requestTimeout(ctx, zbossCmdGetModuleVersion, nil)
	if err != nil {
		return err
	}
	if len(resp.Payload) >= 12 {
		fw := binary.LittleEndian.Uint32(resp.Payload[0:4])
		stack := binary.LittleEndian.Uint32(resp.Payload[4:8])
		proto := binary.LittleEndian.Uint32(resp.Payload[8:12])
		stackStr := fmt.Sprintf("%d.%d.%d.%d", (stack>>24)&0xFF, (stack>>16)&0xFF, (stack>>8)&0xFF, stack&0xFF)
		n.logger.Info("NCP module version", "fw", fw, "stack", stackStr, "protocol", proto)
	}

	steps := []struct {
		cmd     uint16
		payload []byte
		what    string
	}{
		{zbossCmdSetZigbeeRole, []byte{uint8(cfg.Role)}, "set role"},
		{zbossCmdSetChannelMask, buildChannelMask(cfg.ChannelMask), "set channel mask"},
		{zbossCmdSetEDTimeout, []byte{uint8(cfg.EDTimeout)}, "set ED timeout"},
		// Sleepy end device: receiver off when idle.
		{zbossCmdSetRxOnWhenIdle, []byte{0x00}, "set rx on when idle"},
	}
	for _, s := range steps {
		if _, err := n.requestTimeout(ctx, s.cmd, s.payload); err != nil {
			return fmt.Errorf("%s: %w", s.what, err)
		}
	}

	// This backend does not support keep-alive; cfg.KeepAlive is only logged.
	n.logger.Info("NCP configured",
		"role", cfg.Role,
		"ed_timeout", cfg.EDTimeout.Duration(),
		"keep_alive", cfg.KeepAlive,
		"install_code_policy", cfg.InstallCodePolicy,
		"channel_mask", fmt.Sprintf("0x%08X", cfg.ChannelMask))

	var ieee [8]byte
	if resp, err := n.requestTimeout(ctx, zbossCmdGetLocalIEEE, []byte{0x00}); err != nil {
		n.logger.Warn("get local ieee", "err", err)
	} else if len(resp.Payload) >= 9 {
		// Response: mac_interface_num(1) + ieee(8)
		copy(ieee[:], resp.Payload[1:9])
	}

	n.stateMu.Lock()
	n.cfg = cfg
	n.localIEEE = ieee
	n.inited = true
	n.stateMu.Unlock()
	return nil
}

func (n *NRF52840NCP) RegisterEndpoint(desc SimpleDescriptor) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	for _, d := range n.endpoints {
		if d.Endpoint == desc.Endpoint {
			return fmt.Errorf("nrf52840 ncp: endpoint %d already registered", desc.Endpoint)
		}
	}
	n.endpoints = append(n.endpoints, desc)
	return nil
}

func (n *NRF52840NCP) Start(autostart bool) error {
	n.stateMu.Lock()
	if !n.inited {
		n.stateMu.Unlock()
		return fmt.Errorf("nrf52840 ncp: start before init")
	}
	if n.started {
		n.stateMu.Unlock()
		return fmt.Errorf("nrf52840 ncp: already started")
	}
	n.started = true
	n.stateMu.Unlock()

	if autostart {
		return n.StartCommissioning(ModeInitialization)
	}
	n.postSignal(Signal{Type: SignalSkipStartup})
	return nil
}

func (n *NRF52840NCP) StartCommissioning(mode Mode) error {
	n.stateMu.RLock()
	started := n.started
	n.stateMu.RUnlock()
	if !started {
		return fmt.Errorf("nrf52840 ncp: commissioning before start")
	}

	switch mode {
	case ModeInitialization:
		go func() { n.postSignal(n.initialize(n.ctx)) }()
	case ModeNetworkSteering:
		go func() { n.postSignal(n.steer(n.ctx)) }()
	default:
		return fmt.Errorf("nrf52840 ncp: unknown commissioning mode %s", mode)
	}
	return nil
}

// initialize registers endpoints and either resumes the stored network or
// reports a first start.
func (n *NRF52840NCP) initialize(ctx context.Context) Signal {
	resume := n.commissioned()
	sigType := SignalDeviceFirstStart
	if resume {
		sigType = SignalDeviceReboot
	}

	n.stateMu.RLock()
	eps := append([]SimpleDescriptor(nil), n.endpoints...)
	n.stateMu.RUnlock()
	for _, d := range eps {
		if _, err := n.requestTimeout(ctx, zbossCmdAFSetSimpleDesc, buildSimpleDescPayload(d)); err != nil {
			return Signal{Type: sigType, Err: fmt.Errorf("register endpoint %d: %w", d.Endpoint, err)}
		}
	}

	if !resume {
		return Signal{Type: sigType}
	}
	if _, err := n.requestTimeout(ctx, zbossCmdNwkStartWithoutForm, nil); err != nil {
		return Signal{Type: sigType, Err: fmt.Errorf("resume network: %w", err)}
	}
	n.refreshNetworkInfo(ctx)
	return Signal{Type: sigType}
}

// steer scans for an open network and joins the best one.
func (n *NRF52840NCP) steer(ctx context.Context) Signal {
	n.stateMu.RLock()
	mask := n.cfg.ChannelMask
	n.stateMu.RUnlock()

	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	resp, err := n.request(scanCtx, zbossCmdNwkDiscovery, buildNwkDiscovery(mask))
	cancel()
	if err != nil {
		if resp != nil && resp.HL.StatusCat == zbossStatusMAC && resp.HL.StatusCode == zbossMACNoBeacon {
			return Signal{Type: SignalSteering, Err: ErrNoNetwork}
		}
		return Signal{Type: SignalSteering, Err: fmt.Errorf("network discovery: %w", err)}
	}

	nets := parseNetworkDescriptors(resp.Payload)
	target, ok := pickNetwork(nets)
	if !ok {
		n.logger.Info("no open network with end device capacity", "networks_found", len(nets))
		return Signal{Type: SignalSteering, Err: ErrNoNetwork}
	}
	n.logger.Info("joining network",
		"ext_pan_id", FormatExtPanID(target.ExtPanID),
		"pan_id", fmt.Sprintf("0x%04X", target.PanID),
		"channel", target.Channel,
		"lqi", target.LQI)

	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	resp, err = n.request(joinCtx, zbossCmdNwkNLMEJoin, buildNLMEJoin(target.ExtPanID, target.Channel))
	cancel()
	if err != nil {
		return Signal{Type: SignalSteering, Err: errors.Join(ErrJoin, err)}
	}
	jr, err := parseJoinResult(resp.Payload)
	if err != nil {
		return Signal{Type: SignalSteering, Err: errors.Join(ErrJoin, err)}
	}

	n.stateMu.Lock()
	n.network = NetworkInfo{
		Channel:   jr.Channel,
		PanID:     target.PanID,
		ExtPanID:  jr.ExtPanID,
		ShortAddr: jr.ShortAddr,
	}
	n.stateMu.Unlock()
	n.refreshNetworkInfo(ctx)
	return Signal{Type: SignalSteering}
}

// refreshNetworkInfo reads channel and PAN identifiers back from the NCP.
func (n *NRF52840NCP) refreshNetworkInfo(ctx context.Context) {
	info := n.NetworkInfo()

	if resp, err := n.requestTimeout(ctx, zbossCmdGetChannel, nil); err == nil && len(resp.Payload) >= 2 {
		// Response: channel_page(1) + channel(1)
		info.Channel = resp.Payload[1]
	}
	if resp, err := n.requestTimeout(ctx, zbossCmdGetPanID, nil); err == nil && len(resp.Payload) >= 2 {
		info.PanID = binary.LittleEndian.Uint16(resp.Payload)
	}
	if resp, err := n.requestTimeout(ctx, zbossCmdGetExtPanID, nil); err == nil && len(resp.Payload) >= 8 {
		copy(info.ExtPanID[:], resp.Payload[:8])
	}

	n.stateMu.Lock()
	n.network = info
	n.stateMu.Unlock()
}

func (n *NRF52840NCP) ScheduleAlarm(delay time.Duration, fn func()) {
	n.loop.After(delay, fn)
}

func (n *NRF52840NCP) ExtendedPanID() [8]byte {
	return n.NetworkInfo().ExtPanID
}

func (n *NRF52840NCP) PanID() uint16 {
	return n.NetworkInfo().PanID
}

func (n *NRF52840NCP) NetworkInfo() NetworkInfo {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return n.network
}

func (n *NRF52840NCP) OnSignal(handler func(Signal)) {
	n.handlerMu.Lock()
	n.onSignal = handler
	n.handlerMu.Unlock()
}

func (n *NRF52840NCP) OnFrame(handler func(Frame) []byte) {
	n.handlerMu.Lock()
	n.onFrame = handler
	n.handlerMu.Unlock()
}

func (n *NRF52840NCP) Run(ctx context.Context) error {
	return n.loop.Run(ctx)
}

// Close stops the NCP and waits for readLoop to exit.
func (n *NRF52840NCP) Close() error {
	n.lifecycleMu.Lock()
	if n.closed {
		n.lifecycleMu.Unlock()
		return nil
	}
	n.closed = true
	n.cancel()
	n.loop.Stop()
	n.closeOnce.Do(func() { close(n.done) })
	err := n.port.Close()
	n.lifecycleMu.Unlock()

	n.wg.Wait()

	n.hlMu.Lock()
	for tsn, ch := range n.hlPending {
		close(ch)
		delete(n.hlPending, tsn)
	}
	n.hlMu.Unlock()

	return err
}

var _ NCP = (*NRF52840NCP)(nil)

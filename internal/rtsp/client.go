// Package rtsp pulls the camera's RTP video so it can be relayed to
// browsers without decoding.
package rtsp

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"

	"gimbal-tracker/internal/monitoring"
)

var errNoVideo = errors.New("rtsp: stream has no video media")

// Client handles RTSP connection and RTP streaming using gortsplib
type Client struct {
	url     *base.URL
	rtpChan chan []byte
	stopCh  chan struct{}

	received atomic.Uint64
	dropped  atomic.Uint64

	mu      sync.Mutex
	client  *gortsplib.Client
	codec   string
	stopped bool
}

// NewClient validates rtspURL. Nothing is dialled until Connect.
func NewClient(rtspURL string) (*Client, error) {
	u, err := base.ParseURL(rtspURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		url:     u,
		rtpChan: make(chan []byte, 500),
		stopCh:  make(chan struct{}),
	}, nil
}

// Connect establishes the RTSP session and starts playing. A dropped
// session is re-established in the background until Close.
func (c *Client) Connect() error {
	if err := c.connect(); err != nil {
		return err
	}
	go c.monitorConnection()
	return nil
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return errors.New("rtsp: client closed")
	}

	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{
		Transport:    &transport,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		OnDecodeError: func(err error) {
			monitoring.Logf("RTSP: Decode error: %v", err)
		},
	}

	if err := client.Start(c.url.Scheme, c.url.Host); err != nil {
		return err
	}

	desc, _, err := client.Describe(c.url)
	if err != nil {
		client.Close()
		return err
	}

	media, codec := pickVideo(desc)
	if media == nil {
		client.Close()
		return errNoVideo
	}

	if _, err := client.Setup(desc.BaseURL, media, 0, 0); err != nil {
		client.Close()
		return err
	}

	client.OnPacketRTPAny(func(_ *description.Media, _ format.Format, pkt *rtp.Packet) {
		// Marshal allocates, so the buffer is not shared with gortsplib.
		buf, err := pkt.Marshal()
		if err != nil {
			return
		}
		c.received.Add(1)

		select {
		case c.rtpChan <- buf:
		case <-c.stopCh:
		default:
			c.dropped.Add(1)
		}
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return err
	}

	c.client = client
	c.codec = codec
	monitoring.Logf("RTSP: Playing %s (%s)", c.url, codec)
	return nil
}

// pickVideo prefers H.264 or H.265 and falls back to the first video
// media.
func pickVideo(desc *description.Session) (*description.Media, string) {
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			switch forma.(type) {
			case *format.H264:
				return media, "H264"
			case *format.H265:
				return media, "H265"
			}
		}
	}
	for _, media := range desc.Medias {
		if media.Type == description.MediaTypeVideo && len(media.Formats) > 0 {
			return media, media.Formats[0].Codec()
		}
	}
	return nil, ""
}

// monitorConnection waits for the session to end and reconnects with
// exponential backoff.
func (c *Client) monitorConnection() {
	for {
		c.mu.Lock()
		client := c.client
		c.mu.Unlock()
		if client == nil {
			return
		}

		err := client.Wait()

		select {
		case <-c.stopCh:
			return
		default:
		}
		monitoring.Logf("RTSP: Connection lost: %v", err)

		for attempt := 1; ; attempt++ {
			delay := min(time.Duration(1<<uint(min(attempt-1, 5)))*time.Second, 30*time.Second)
			monitoring.Logf("RTSP: Reconnect attempt %d in %v", attempt, delay)

			select {
			case <-c.stopCh:
				return
			case <-time.After(delay):
			}

			if err := c.connect(); err != nil {
				monitoring.Logf("RTSP: Reconnect failed: %v", err)
				continue
			}
			monitoring.Logf("RTSP: Reconnected successfully")
			break
		}
	}
}

// RTPChannel delivers marshalled RTP packets. Packets are dropped when
// the reader falls behind. The channel is never closed; select on Done.
func (c *Client) RTPChannel() <-chan []byte {
	return c.rtpChan
}

// Done is closed by Close.
func (c *Client) Done() <-chan struct{} {
	return c.stopCh
}

// Codec names the relayed video codec, e.g. "H264".
func (c *Client) Codec() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec
}

// Stats returns the packets received and dropped so far.
func (c *Client) Stats() (received, dropped uint64) {
	return c.received.Load(), c.dropped.Load()
}

// Close closes the RTSP connection
func (c *Client) Close() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	client := c.client
	c.mu.Unlock()

	close(c.stopCh)
	if client != nil {
		client.Close()
	}
	return nil
}

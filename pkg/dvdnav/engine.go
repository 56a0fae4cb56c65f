// Package dvdnav binds libdvdnav as a nav.Engine.
package dvdnav

/*
#cgo pkg-config: dvdnav dvdread

#include <stdio.h>
#include <stdlib.h>
#include <string.h>
#include <dvdnav/dvdnav.h>
#include <dvdread/dvd_reader.h>
#include <dvdread/ifo_read.h>

typedef struct { int x, y, w, h; } dp_rect;

// btni_t coordinates are bitfields, which cgo cannot read.
static int dp_buttons(dvdnav_t *nav, dp_rect *out, int max, int64_t *duration) {
    pci_t *pci = dvdnav_get_current_nav_pci(nav);
    *duration = 0;
    if (!pci) {
        return 0;
    }
    int n = pci->hli.hl_gi.btn_ns;
    if (n > max) {
        n = max;
    }
    for (int i = 0; i < n; i++) {
        btni_t *b = &pci->hli.btnit[i];
        out[i].x = b->x_start;
        out[i].y = b->y_start;
        out[i].w = b->x_end - b->x_start;
        out[i].h = b->y_end - b->y_start;
    }
    uint32_t s = pci->hli.hl_gi.hli_s_ptm, e = pci->hli.hl_gi.hli_e_ptm;
    if (e != 0xffffffff && e > s) {
        *duration = (int64_t)(e - s);
    }
    return n;
}

static int dp_button_rect(dvdnav_t *nav, int button, dp_rect *r) {
    pci_t *pci = dvdnav_get_current_nav_pci(nav);
    if (!pci || button < 1 || button > pci->hli.hl_gi.btn_ns) {
        return -1;
    }
    btni_t *b = &pci->hli.btnit[button - 1];
    r->x = b->x_start;
    r->y = b->y_start;
    r->w = b->x_end - b->x_start;
    r->h = b->y_end - b->y_start;
    return 0;
}

static dvdnav_status_t dp_select(dvdnav_t *nav, int n) {
    return dvdnav_button_select(nav, dvdnav_get_current_nav_pci(nav), n);
}

static dvdnav_status_t dp_activate(dvdnav_t *nav) {
    return dvdnav_button_activate(nav, dvdnav_get_current_nav_pci(nav));
}

static dvdnav_status_t dp_move(dvdnav_t *nav, int dir) {
    pci_t *pci = dvdnav_get_current_nav_pci(nav);
    switch (dir) {
    case 0: return dvdnav_upper_button_select(nav, pci);
    case 1: return dvdnav_lower_button_select(nav, pci);
    case 2: return dvdnav_left_button_select(nav, pci);
    case 3: return dvdnav_right_button_select(nav, pci);
    }
    return DVDNAV_STATUS_ERR;
}

static dvdnav_status_t dp_seek(dvdnav_t *nav, uint32_t offset) {
    return dvdnav_sector_search(nav, offset, SEEK_SET);
}

static int dp_still_length(uint8_t *buf) {
    return ((dvdnav_still_event_t *)buf)->length;
}

static void dp_vts(uint8_t *buf, int *old_vts, int *new_vts) {
    dvdnav_vts_change_event_t *e = (dvdnav_vts_change_event_t *)buf;
    *old_vts = e->old_vtsN;
    *new_vts = e->new_vtsN;
}

static int dp_audio_logical(uint8_t *buf) {
    return ((dvdnav_audio_stream_change_event_t *)buf)->logical;
}

static int dp_spu_logical(uint8_t *buf) {
    return ((dvdnav_spu_stream_change_event_t *)buf)->logical;
}

static int dp_highlight_button(uint8_t *buf) {
    return ((dvdnav_highlight_event_t *)buf)->buttonN;
}

static uint64_t dp_title_duration(dvdnav_t *nav, int title, uint32_t *chapters) {
    uint64_t *times = NULL;
    uint64_t duration = 0;
    *chapters = dvdnav_describe_title_chapters(nav, title, &times, &duration);
    free(times);
    return duration;
}

// Sector range of each title's first program chain, relative to its title
// set. Titles that cannot be resolved are left at 0.
static int dp_title_sectors(const char *path, int count, uint32_t *start, uint32_t *end) {
    dvd_reader_t *dvd = DVDOpen(path);
    if (!dvd) {
        return -1;
    }
    ifo_handle_t *vmg = ifoOpen(dvd, 0);
    if (!vmg || !vmg->tt_srpt) {
        if (vmg) {
            ifoClose(vmg);
        }
        DVDClose(dvd);
        return -1;
    }
    int n = vmg->tt_srpt->nr_of_srpts;
    if (n > count) {
        n = count;
    }
    for (int i = 0; i < n; i++) {
        title_info_t *ti = &vmg->tt_srpt->title[i];
        ifo_handle_t *vts = ifoOpen(dvd, ti->title_set_nr);
        if (!vts) {
            continue;
        }
        if (vts->vts_ptt_srpt && vts->vts_pgcit && ti->vts_ttn >= 1 &&
            ti->vts_ttn <= vts->vts_ptt_srpt->nr_of_srpts &&
            vts->vts_ptt_srpt->title[ti->vts_ttn - 1].nr_of_ptts > 0) {
            int pgcn = vts->vts_ptt_srpt->title[ti->vts_ttn - 1].ptt[0].pgcn;
            if (pgcn >= 1 && pgcn <= vts->vts_pgcit->nr_of_pgci_srp) {
                pgc_t *pgc = vts->vts_pgcit->pgci_srp[pgcn - 1].pgc;
                if (pgc && pgc->cell_playback && pgc->nr_of_cells > 0) {
                    start[i] = pgc->cell_playback[0].first_sector;
                    end[i] = pgc->cell_playback[pgc->nr_of_cells - 1].last_sector;
                }
            }
        }
        ifoClose(vts);
    }
    ifoClose(vmg);
    DVDClose(dvd);
    return 0;
}

static char *dp_lang(const char *s) {
    return (char *)s;
}
*/
import "C"

import (
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	"discplay/pkg/nav"
)

const maxButtons = 36

// Engine is a libdvdnav handle. It is not safe for concurrent use.
type Engine struct {
	nav    *C.dvdnav_t
	device string
	block  *C.uint8_t
	data   []byte
	logger *slog.Logger
}

var _ nav.Engine = (*Engine)(nil)

// Opener returns a nav.Opener that logs through logger.
func Opener(logger *slog.Logger) nav.Opener {
	return func(device, language string) (nav.Engine, error) {
		return Open(device, language, logger)
	}
}

// Open opens device (a drive, an ISO image or a VIDEO_TS directory).
func Open(device, language string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cdev := C.CString(device)
	defer C.free(unsafe.Pointer(cdev))

	var handle *C.dvdnav_t
	if C.dvdnav_open(&handle, cdev) != C.DVDNAV_STATUS_OK {
		if handle != nil {
			C.dvdnav_close(handle)
		}
		return nil, fmt.Errorf("%w: %s", nav.ErrOpen, device)
	}

	e := &Engine{
		nav:    handle,
		device: device,
		block:  (*C.uint8_t)(C.malloc(C.DVD_VIDEO_LB_LEN)),
		data:   make([]byte, C.DVD_VIDEO_LB_LEN),
		logger: logger,
	}
	C.dvdnav_set_readahead_flag(handle, 1)
	C.dvdnav_set_PGC_positioning_flag(handle, 1)
	if language != "" {
		clang := C.CString(language)
		defer C.free(unsafe.Pointer(clang))
		if C.dvdnav_menu_language_select(handle, C.dp_lang(clang)) != C.DVDNAV_STATUS_OK {
			logger.Warn("menu language not available", "language", language, "error", e.lastError())
		}
		C.dvdnav_audio_language_select(handle, C.dp_lang(clang))
		C.dvdnav_spu_language_select(handle, C.dp_lang(clang))
	}
	return e, nil
}

func (e *Engine) lastError() string {
	return C.GoString(C.dvdnav_err_to_string(e.nav))
}

func (e *Engine) status(op string, st C.dvdnav_status_t) error {
	if st == C.DVDNAV_STATUS_OK {
		return nil
	}
	return fmt.Errorf("dvdnav: %s: %s", op, e.lastError())
}

// ReadNext reads the next block and classifies it.
func (e *Engine) ReadNext() (nav.Event, error) {
	var event, length C.int32_t
	if C.dvdnav_get_next_block(e.nav, e.block, &event, &length) != C.DVDNAV_STATUS_OK || length < 0 {
		return nav.Event{}, fmt.Errorf("%w: %s", nav.ErrRead, e.lastError())
	}

	switch event {
	case C.DVDNAV_BLOCK_OK:
		return nav.Event{Kind: nav.EventBlock, Data: e.copyBlock(length)}, nil
	case C.DVDNAV_NOP:
		return nav.Event{Kind: nav.EventNop}, nil
	case C.DVDNAV_STILL_FRAME:
		return nav.Event{Kind: nav.EventStillFrame, StillLength: int(C.dp_still_length(e.block))}, nil
	case C.DVDNAV_SPU_STREAM_CHANGE:
		return nav.Event{Kind: nav.EventSPUStreamChange, Stream: int(C.dp_spu_logical(e.block))}, nil
	case C.DVDNAV_AUDIO_STREAM_CHANGE:
		return nav.Event{Kind: nav.EventAudioStreamChange, Stream: int(C.dp_audio_logical(e.block))}, nil
	case C.DVDNAV_VTS_CHANGE:
		var oldVTS, newVTS C.int
		C.dp_vts(e.block, &oldVTS, &newVTS)
		return nav.Event{Kind: nav.EventVTSChange, OldVTS: int(oldVTS), NewVTS: int(newVTS)}, nil
	case C.DVDNAV_CELL_CHANGE:
		ev := nav.Event{Kind: nav.EventCellChange}
		if title, _, err := e.CurrentTitle(); err == nil {
			ev.Title = title
		}
		if pos, err := e.Position(); err == nil {
			ev.Position, ev.Length = pos.Offset, pos.Length
		}
		return ev, nil
	case C.DVDNAV_NAV_PACKET:
		ev := nav.Event{Kind: nav.EventNavPacket, Data: e.copyBlock(length)}
		ev.Buttons, ev.MenuDuration = e.buttons()
		return ev, nil
	case C.DVDNAV_STOP:
		return nav.Event{Kind: nav.EventStop}, nil
	case C.DVDNAV_HIGHLIGHT:
		return nav.Event{Kind: nav.EventHighlight, Highlight: int(C.dp_highlight_button(e.block))}, nil
	case C.DVDNAV_SPU_CLUT_CHANGE:
		return nav.Event{Kind: nav.EventPaletteChange}, nil
	case C.DVDNAV_HOP_CHANNEL:
		return nav.Event{Kind: nav.EventChannelHop}, nil
	case C.DVDNAV_WAIT:
		return nav.Event{Kind: nav.EventWait}, nil
	default:
		e.logger.Debug("unhandled dvdnav event", "event", int(event))
		return nav.Event{Kind: nav.EventNop}, nil
	}
}

func (e *Engine) copyBlock(length C.int32_t) []byte {
	n := int(length)
	if n > len(e.data) {
		n = len(e.data)
	}
	copy(e.data[:n], unsafe.Slice((*byte)(unsafe.Pointer(e.block)), n))
	return e.data[:n]
}

func (e *Engine) buttons() ([]nav.ButtonRect, time.Duration) {
	var rects [maxButtons]C.dp_rect
	var ticks C.int64_t
	n := int(C.dp_buttons(e.nav, &rects[0], maxButtons, &ticks))
	out := make([]nav.ButtonRect, n)
	for i := 0; i < n; i++ {
		r := rects[i]
		out[i] = nav.ButtonRect{X: int(r.x), Y: int(r.y), W: int(r.w), H: int(r.h)}
	}
	return out, ticksToDuration(uint64(ticks))
}

// ticksToDuration converts 90kHz clock ticks.
func ticksToDuration(ticks uint64) time.Duration {
	return time.Duration(ticks) * time.Second / 90000
}

func (e *Engine) SelectButton(n int) error {
	return e.status("select button", C.dp_select(e.nav, C.int(n)))
}

func (e *Engine) MoveButton(d nav.Direction) error {
	return e.status("move highlight", C.dp_move(e.nav, C.int(d)))
}

func (e *Engine) ActivateButton() error {
	return e.status("activate button", C.dp_activate(e.nav))
}

func (e *Engine) CurrentHighlight() (int, *nav.ButtonRect, error) {
	var button C.int32_t
	if err := e.status("current highlight", C.dvdnav_get_current_highlight(e.nav, &button)); err != nil {
		return 0, nil, err
	}
	if button <= 0 {
		return 0, nil, nil
	}
	var r C.dp_rect
	if C.dp_button_rect(e.nav, C.int(button), &r) != 0 {
		return int(button), nil, nil
	}
	return int(button), &nav.ButtonRect{X: int(r.x), Y: int(r.y), W: int(r.w), H: int(r.h)}, nil
}

func (e *Engine) SeekTo(offset uint32) error {
	return e.status("sector search", C.dp_seek(e.nav, C.uint32_t(offset)))
}

func (e *Engine) PlayTitle(n int) error {
	return e.status("title play", C.dvdnav_title_play(e.nav, C.int32_t(n)))
}

func (e *Engine) StillSkip() error {
	return e.status("still skip", C.dvdnav_still_skip(e.nav))
}

func (e *Engine) WaitSkip() error {
	return e.status("wait skip", C.dvdnav_wait_skip(e.nav))
}

func (e *Engine) Position() (nav.Position, error) {
	var pos, length C.uint32_t
	if err := e.status("get position", C.dvdnav_get_position(e.nav, &pos, &length)); err != nil {
		return nav.Position{}, err
	}
	return nav.Position{Offset: uint32(pos), Length: uint32(length)}, nil
}

func (e *Engine) InTitleDomain() bool {
	return C.dvdnav_is_domain_vts(e.nav) != 0
}

func (e *Engine) CurrentTitle() (int, int, error) {
	var title, part C.int32_t
	if err := e.status("current title", C.dvdnav_current_title_info(e.nav, &title, &part)); err != nil {
		return 0, 0, err
	}
	return int(title), int(part), nil
}

// Titles describes every title on the disc.
func (e *Engine) Titles() ([]nav.TitleInfo, error) {
	var count C.int32_t
	if err := e.status("number of titles", C.dvdnav_get_number_of_titles(e.nav, &count)); err != nil {
		return nil, err
	}
	n := int(count)
	titles := make([]nav.TitleInfo, 0, n)
	if n == 0 {
		return titles, nil
	}

	start := make([]C.uint32_t, n)
	end := make([]C.uint32_t, n)
	cdev := C.CString(e.device)
	defer C.free(unsafe.Pointer(cdev))
	if C.dp_title_sectors(cdev, C.int(n), &start[0], &end[0]) != 0 {
		e.logger.Debug("title sector ranges unavailable", "device", e.device)
	}

	for t := 1; t <= n; t++ {
		var chapters C.uint32_t
		ticks := C.dp_title_duration(e.nav, C.int(t), &chapters)
		titles = append(titles, nav.TitleInfo{
			Number:      t,
			Chapters:    int(chapters),
			Duration:    ticksToDuration(uint64(ticks)),
			StartSector: uint32(start[t-1]),
			EndSector:   uint32(end[t-1]),
		})
	}
	return titles, nil
}

// DiscTitle returns the raw volume title.
func (e *Engine) DiscTitle() (string, error) {
	var s *C.char
	if err := e.status("title string", C.dvdnav_get_title_string(e.nav, &s)); err != nil {
		return "", err
	}
	if s == nil {
		return "", nil
	}
	return C.GoString(s), nil
}

// Close releases the handle. It is safe to call more than once.
func (e *Engine) Close() error {
	if e.nav == nil {
		return nil
	}
	st := C.dvdnav_close(e.nav)
	e.nav = nil
	C.free(unsafe.Pointer(e.block))
	e.block = nil
	if st != C.DVDNAV_STATUS_OK {
		return fmt.Errorf("dvdnav: close failed")
	}
	return nil
}

package cache

import (
	"container/list"
	"time"
)

type LRUOpts struct {
	Size int
}

type entry struct {
	key       string
	val       any
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type getReq struct {
	key  string
	resp chan getResp
}

type getResp struct {
	val any
	ok  bool
}

type putReq struct {
	key  string
	val  any
	opts PutOptions
}

// LRU is an in-memory cache with LRU eviction and optional per-entry TTL.
// All operations are serialized through a single goroutine, so LRU is safe
// for concurrent use without external locking. Close stops the goroutine;
// operations after Close are no-ops.
type LRU struct {
	getCh chan getReq
	putCh chan putReq
	delCh chan string
	done  chan struct{}
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}

	l := &LRU{
		getCh: make(chan getReq),
		putCh: make(chan putReq),
		delCh: make(chan string),
		done:  make(chan struct{}),
	}

	go l.run(opts.Size)

	return l
}

func (L *LRU) Get(key string) (any, bool) {
	resp := make(chan getResp)
	select {
	case L.getCh <- getReq{key: key, resp: resp}:
		r := <-resp
		return r.val, r.ok
	case <-L.done:
		return nil, false
	}
}

func (L *LRU) Put(key string, val any, opts ...PutOption) {
	var o PutOptions
	for _, opt := range opts {
		opt(&o)
	}
	select {
	case L.putCh <- putReq{key: key, val: val, opts: o}:
	case <-L.done:
	}
}

func (L *LRU) Delete(key string) {
	select {
	case L.delCh <- key:
	case <-L.done:
	}
}

func (L *LRU) Close() {
	select {
	case <-L.done:
	default:
		close(L.done)
	}
}

func (L *LRU) run(size int) {
	ll := list.New()
	items := make(map[string]*list.Element)

	remove := func(ele *list.Element) {
		ll.Remove(ele)
		delete(items, ele.Value.(*entry).key)
	}

	for {
		select {
		case <-L.done:
			return
		case req := <-L.getCh:
			ele, ok := items[req.key]
			if !ok {
				req.resp <- getResp{ok: false}
				continue
			}
			ent := ele.Value.(*entry)
			if ent.expired(time.Now()) {
				remove(ele)
				req.resp <- getResp{ok: false}
				continue
			}
			ll.MoveToFront(ele)
			req.resp <- getResp{val: ent.val, ok: true}
		case req := <-L.putCh:
			var expiresAt time.Time
			if req.opts.TTL > 0 {
				expiresAt = time.Now().Add(req.opts.TTL)
			}
			if ele, ok := items[req.key]; ok {
				ll.MoveToFront(ele)
				ent := ele.Value.(*entry)
				ent.val = req.val
				ent.expiresAt = expiresAt
				continue
			}
			ele := ll.PushFront(&entry{key: req.key, val: req.val, expiresAt: expiresAt})
			items[req.key] = ele
			if ll.Len() > size {
				if last := ll.Back(); last != nil {
					remove(last)
				}
			}
		case key := <-L.delCh:
			if ele, ok := items[key]; ok {
				remove(ele)
			}
		}
	}
}

var _ Cache = (*LRU)(nil)

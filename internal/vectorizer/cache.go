package vectorizer

import "sync"

// lruNode is an entry in the doubly-linked access-order list.
type lruNode struct {
	key   string
	value []float32
	prev  *lruNode
	next  *lruNode
}

// embeddingCache is an LRU cache for embeddings. Accessed entries are
// promoted to the front so eviction always removes the least recently used.
type embeddingCache struct {
	mu       sync.Mutex
	items    map[string]*lruNode
	head     *lruNode // most recently used
	tail     *lruNode // least recently used
	capacity int
}

func newEmbeddingCache(capacity int) *embeddingCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &embeddingCache{
		items:    make(map[string]*lruNode),
		capacity: capacity,
	}
}

func (c *embeddingCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(node)
	return node.value, true
}

func (c *embeddingCache) set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, exists := c.items[key]; exists {
		node.value = value
		c.moveToFront(node)
		return
	}

	node := &lruNode{key: key, value: value}
	c.items[key] = node
	c.addToFront(node)

	if len(c.items) > c.capacity {
		c.evictLRU()
	}
}

func (c *embeddingCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *embeddingCache) moveToFront(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToFront(node)
}

func (c *embeddingCache) addToFront(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *embeddingCache) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

func (c *embeddingCache) evictLRU() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.key)
	if c.tail.prev != nil {
		c.tail.prev.next = nil
		c.tail = c.tail.prev
	} else {
		c.head = nil
		c.tail = nil
	}
}

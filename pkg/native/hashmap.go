package native

// HashMap represents a java.util.HashMap. Keys compare by value for boxed
// integers and strings and by identity otherwise.
type HashMap struct {
	data map[interface{}]interface{}
}

// NewHashMap creates an empty HashMap.
func NewHashMap() *HashMap {
	return &HashMap{data: make(map[interface{}]interface{})}
}

func (m *HashMap) JavaClass() string { return "java/util/HashMap" }

func mapKey(key interface{}) interface{} {
	if i, ok := key.(*Integer); ok {
		return i.Value
	}
	return key
}

// Get returns the value for key, or nil.
func (m *HashMap) Get(key interface{}) interface{} {
	return m.data[mapKey(key)]
}

// Put stores a key-value pair and returns the previous value.
func (m *HashMap) Put(key, value interface{}) interface{} {
	k := mapKey(key)
	old := m.data[k]
	m.data[k] = value
	return old
}

// ContainsKey reports whether key has a mapping.
func (m *HashMap) ContainsKey(key interface{}) bool {
	_, ok := m.data[mapKey(key)]
	return ok
}

// Remove deletes the mapping for key and returns the previous value.
func (m *HashMap) Remove(key interface{}) interface{} {
	k := mapKey(key)
	old := m.data[k]
	delete(m.data, k)
	return old
}

func (m *HashMap) Size() int { return len(m.data) }
